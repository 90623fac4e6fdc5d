// Package wave holds the data model shared by every stage of wave execution:
// tasks, their results, checkpoint state and the error taxonomy.
package wave

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// DefaultClass is the circuit-breaker classification used when a task has none.
const DefaultClass = "default"

// Task is one unit of agent-driven work within a wave.
// Tasks are owned by the caller and treated as read-only.
type Task struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name,omitempty" json:"name,omitempty"`
	Prompt    string   `yaml:"prompt" json:"prompt"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Class     string   `yaml:"class,omitempty" json:"class,omitempty"` // Circuit-breaker grouping
}

// Classification returns the breaker key for the task.
func (t Task) Classification() string {
	if t.Class == "" {
		return DefaultClass
	}
	return t.Class
}

// ContentHash identifies the task definition. Two tasks with the same hash are
// interchangeable for replay purposes.
func (t Task) ContentHash() string {
	deps := append([]string(nil), t.DependsOn...)
	sort.Strings(deps)

	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(t.ID)
	write(t.Prompt)
	write(t.Classification())
	for _, d := range deps {
		write(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}
