package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/port"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

var (
	_ port.ArchiveSink = (*LocalSink)(nil)
	_ port.ArchiveSink = (*GCSSink)(nil)
)

// --- local disk ---

// LocalSink stores archives in a directory served by the download route.
type LocalSink struct {
	dir     string
	baseURL string
	logger  *zap.Logger
}

// NewLocalSink creates the directory if needed.
func NewLocalSink(dir, baseURL string, logger *zap.Logger) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &LocalSink{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

// Put writes data atomically and returns BaseURL/name.
func (s *LocalSink) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", &domain.ErrExternalService{Service: "sink", Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &domain.ErrExternalService{Service: "sink", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &domain.ErrExternalService{Service: "sink", Err: err}
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", &domain.ErrExternalService{Service: "sink", Err: err}
	}

	s.logger.Info("archive stored", zap.String("name", name), zap.Int("bytes", len(data)))
	return s.baseURL + "/" + name, nil
}

// Open returns a stored archive for download.
func (s *LocalSink) Open(name string) (*os.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ErrNotFound{Resource: "archive", ID: name}
		}
		return nil, err
	}
	return f, nil
}

// validName rejects anything that could escape the directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return &domain.ErrValidation{Field: "name", Message: fmt.Sprintf("invalid archive name %q", name)}
	}
	return nil
}

// --- Google Cloud Storage ---

// GCSSink uploads archives to a bucket.
type GCSSink struct {
	client  *storage.Client
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGCSSink creates a sink using Application Default Credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs sink requires a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSink{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		timeout: 2 * time.Minute,
		logger:  logger,
	}, nil
}

// Put uploads data and returns its gs:// URI.
func (s *GCSSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	object := name
	if s.prefix != "" {
		object = path.Join(s.prefix, name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType(name)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", &domain.ErrExternalService{Service: "sink", Err: fmt.Errorf("write %s: %w", object, err)}
	}
	if err := w.Close(); err != nil {
		return "", &domain.ErrExternalService{Service: "sink", Err: fmt.Errorf("finalize %s: %w", object, err)}
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, object)
	s.logger.Info("archive uploaded", zap.String("uri", uri), zap.Int("bytes", len(data)))
	return uri, nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".zip":
		return "application/zip"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
