package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/usorama/rad-engineer/internal/wave"
)

// taskFile is the on-disk wave definition. JSON files are accepted too.
type taskFile struct {
	WaveID string      `yaml:"wave_id"`
	Tasks  []wave.Task `yaml:"tasks"`
}

// loadTasks reads a wave definition. The wave ID defaults to the file name
// without extension.
func loadTasks(path string) (string, []wave.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading task file: %w", err)
	}

	var f taskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(f.Tasks) == 0 {
		return "", nil, fmt.Errorf("%s defines no tasks", path)
	}

	if f.WaveID == "" {
		base := filepath.Base(path)
		f.WaveID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return f.WaveID, f.Tasks, nil
}
