package comparison

import (
	"os"
	"path/filepath"

	apperrors "goinfonet/internal/errors"

	"github.com/goccy/go-json"
)

// SaveFile writes a comparison result as indented JSON
func SaveFile(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, "failed to encode comparison")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.Wrapf(err, "failed to write comparison to %s", path)
	}
	return nil
}

// LoadFile reads a comparison result written by SaveFile
func LoadFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(path)
		}
		return nil, apperrors.Wrapf(err, "failed to read comparison from %s", path)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput, apperrors.Wrap(err, "failed to decode comparison"))
	}
	return &r, nil
}
