package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

// Invoker runs one job's parameters through a Backend and moves the
// produced artifact to the caller's output path.
type Invoker struct {
	backend Backend
	logger  *slog.Logger
}

// NewInvoker creates an Invoker. A nil logger means slog.Default().
func NewInvoker(b Backend, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{backend: b, logger: logger}
}

// Invoke performs the inference for params and returns the artifact's final
// path. Errors are returned as-is: *ParamError, *InvocationError,
// ErrMissingArtifact or *RelocationError. Nothing is retried or cleaned up.
func (inv *Invoker) Invoke(ctx context.Context, params models.JobParams) (string, error) {
	req, err := buildRequest(params)
	if err != nil {
		return "", err
	}
	finalPath, err := stringParam(params, models.ParamOutputFilePath)
	if err != nil {
		return "", err
	}

	inv.logger.Info("starting inference", "backend", inv.backend.Name(),
		"audio_path", req.AudioPath, "video_path", req.VideoPath)

	resp, err := inv.backend.Infer(ctx, req)
	if err != nil {
		inv.logger.Error("inference failed", "backend", inv.backend.Name(), "error", err)
		return "", &InvocationError{Err: err}
	}

	if len(resp.Outputs) == 0 || resp.Outputs[0].Video == "" {
		return "", ErrMissingArtifact
	}
	tempPath := resp.Outputs[0].Video

	if err := relocate(tempPath, finalPath); err != nil {
		return "", &RelocationError{From: tempPath, To: finalPath, Err: err}
	}
	inv.logger.Info("output video moved", "path", finalPath)

	return finalPath, nil
}

// relocate renames src to dst, falling back to copy-and-remove when the two
// paths are on different filesystems.
func relocate(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	return copyAndRemove(src, dst)
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Stage next to dst so the final step is still a same-device rename.
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Remove(src)
}
