package docproc

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs binaries on the host.
type ExecRunner struct {
	Logger *zap.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("cmd", name),
		zap.String("args", strings.Join(args, " ")),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.Error("exec failed", append(fields,
			zap.Error(err),
			zap.String("stderr", truncate(errb.String(), 8<<10)),
		)...)
	} else {
		logger.Debug("exec ok", append(fields,
			zap.Int("stdout_bytes", out.Len()),
			zap.Int("stderr_bytes", errb.Len()),
		)...)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
