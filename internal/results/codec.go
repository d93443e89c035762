package results

import (
	"os"
	"path/filepath"

	apperrors "goinfonet/internal/errors"

	"github.com/goccy/go-json"
)

// Marshal encodes results to their durable JSON form
func Marshal(n *NetworkResults) ([]byte, error) {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode network results")
	}
	return data, nil
}

// Unmarshal restores results encoded by Marshal
func Unmarshal(data []byte) (*NetworkResults, error) {
	var n NetworkResults
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput, apperrors.Wrap(err, "failed to decode network results"))
	}
	if n.Targets == nil {
		n.Targets = make(map[int]*TargetResult)
	}
	return &n, nil
}

// SaveFile writes results to path, creating parent directories
func SaveFile(path string, n *NetworkResults) error {
	data, err := Marshal(n)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.Wrapf(err, "failed to write results to %s", path)
	}
	return nil
}

// LoadFile reads results written by SaveFile
func LoadFile(path string) (*NetworkResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(path)
		}
		return nil, apperrors.Wrapf(err, "failed to read results from %s", path)
	}
	return Unmarshal(data)
}
