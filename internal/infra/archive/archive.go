// Package archive packages reconciled documents and stores the result.
package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"
)

// Entry is one named document of the output archive.
type Entry struct {
	Name string
	Data []byte
}

// Build zips entries in order with deflate. Duplicate or empty names are
// rejected.
func Build(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]struct{}, len(entries))
	modified := time.Now().UTC()

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("archive entry without name")
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("duplicate archive entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("create entry %q: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("write entry %q: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Names lists the entry names of a zip archive in stored order.
func Names(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return names, nil
}
