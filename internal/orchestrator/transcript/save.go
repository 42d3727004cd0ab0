package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// SaveText writes text to <dir>/<prefix>_<YYYYMMDD_HHMMSS>.txt and returns
// the path. Empty text is refused.
func SaveText(dir, prefix, text string, at time.Time) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.InvalidArgument, "no text to save")
	}
	if prefix == "" {
		prefix = "transcript"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.Internal, "create %s", dir)
	}
	path := filepath.Join(dir, prefix+"_"+at.Format(saveTimeLayout)+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", apperrors.Wrapf(err, apperrors.Internal, "write %s", path)
	}
	return path, nil
}
