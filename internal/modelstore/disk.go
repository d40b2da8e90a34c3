package modelstore

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rewired-gh/procwatch/internal/forecast"
	"github.com/rewired-gh/procwatch/internal/logger"
)

const artifactSuffix = ".model.json"

// ErrNoModelsDir is returned by LoadDir when the directory does not exist.
var ErrNoModelsDir = errors.New("models directory not found")

// SaveDir writes every model of snap to dir, one artifact per variable.
// Each file is written to a temp file and renamed into place.
func SaveDir(dir string, snap *Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	for _, v := range snap.Variables() {
		m, _ := snap.Get(v)
		data, err := forecast.Encode(m)
		if err != nil {
			return fmt.Errorf("failed to encode model %s: %w", v, err)
		}
		if err := writeAtomic(filepath.Join(dir, fileName(v)), data); err != nil {
			return fmt.Errorf("failed to write model %s: %w", v, err)
		}
	}
	return nil
}

// LoadDir reads every artifact in dir. Unreadable artifacts are skipped with
// a warning so one corrupt file does not block startup. When two artifacts
// hold the same variable the most recently trained wins.
func LoadDir(dir string) (map[string]*forecast.Model, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoModelsDir, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	out := make(map[string]*forecast.Model)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.Warn("Failed to read model artifact %s: %v", e.Name(), err)
			continue
		}
		m, err := forecast.Decode(data)
		if err != nil {
			logger.Warn("Failed to decode model artifact %s: %v", e.Name(), err)
			continue
		}
		if prev, ok := out[m.Variable]; ok && prev.TrainedAt.After(m.TrainedAt) {
			continue
		}
		out[m.Variable] = m
	}
	return out, nil
}

// fileName maps a variable name to a filesystem-safe artifact name. A hash
// of the raw name keeps variables that sanitize alike apart; the artifact
// itself records the original variable name.
func fileName(variable string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	h := fnv.New32a()
	h.Write([]byte(variable))
	return fmt.Sprintf("model_%s_%08x%s", r.Replace(variable), h.Sum32(), artifactSuffix)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
