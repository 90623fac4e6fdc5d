package scheduler

import (
	"strings"
	"testing"

	"github.com/usorama/rad-engineer/internal/wave"
)

func ids(tasks []wave.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

// TestNewDAGValidation tests DAG validation with various graph structures.
func TestNewDAGValidation(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []wave.Task
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			tasks: []wave.Task{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C", DependsOn: []string{"B"}},
			},
		},
		{
			name: "valid parallel tasks",
			tasks: []wave.Task{
				{ID: "A"},
				{ID: "B"},
				{ID: "C", DependsOn: []string{"A", "B"}},
			},
		},
		{
			name: "direct cycle",
			tasks: []wave.Task{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"A"}},
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name:        "self-loop",
			tasks:       []wave.Task{{ID: "A", DependsOn: []string{"A"}}},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name:        "missing dependency",
			tasks:       []wave.Task{{ID: "A", DependsOn: []string{"ghost"}}},
			wantErr:     true,
			errContains: "non-existent",
		},
		{
			name:        "duplicate ID",
			tasks:       []wave.Task{{ID: "A"}, {ID: "A"}},
			wantErr:     true,
			errContains: "already exists",
		},
		{
			name:        "empty ID",
			tasks:       []wave.Task{{ID: ""}},
			wantErr:     true,
			errContains: "empty ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDAG(tt.tasks)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDAGEligibleRespectsDependencies(t *testing.T) {
	dag, err := NewDAG([]wave.Task{
		{ID: "A"},
		{ID: "B"},
		{ID: "C", DependsOn: []string{"A", "B"}},
	})
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}

	if got := ids(dag.Eligible()); strings.Join(got, ",") != "A,B" {
		t.Fatalf("eligible = %v, want [A B]", got)
	}

	_ = dag.MarkRunning("A")
	_ = dag.MarkDone("A", wave.StatusSucceeded)
	if got := ids(dag.Eligible()); strings.Join(got, ",") != "B" {
		t.Fatalf("eligible after A = %v, want [B]", got)
	}

	_ = dag.MarkRunning("B")
	if got := dag.Eligible(); len(got) != 0 {
		t.Fatalf("eligible while B running = %v, want none", ids(got))
	}

	_ = dag.MarkDone("B", wave.StatusSucceeded)
	if got := ids(dag.Eligible()); strings.Join(got, ",") != "C" {
		t.Fatalf("eligible after B = %v, want [C]", got)
	}
}

func TestDAGBlockedByFailedDependency(t *testing.T) {
	dag, err := NewDAG([]wave.Task{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
	})
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}

	_ = dag.MarkRunning("A")
	_ = dag.MarkDone("A", wave.StatusFailed)

	if got := dag.Eligible(); len(got) != 0 {
		t.Errorf("eligible = %v, want none", ids(got))
	}
	blocked := dag.Blocked()
	if blocked["B"] != "A" {
		t.Errorf("blocked = %v, want B blocked by A", blocked)
	}
	if _, ok := blocked["C"]; ok {
		t.Error("C should not be blocked until B is resolved")
	}

	_ = dag.MarkDone("B", wave.StatusSkipped)
	if dag.Blocked()["C"] != "B" {
		t.Error("C should be blocked by skipped B")
	}
}

func TestDAGMarkTransitions(t *testing.T) {
	dag, err := NewDAG([]wave.Task{{ID: "A"}})
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}

	if err := dag.MarkRunning("missing"); err == nil {
		t.Error("expected error for unknown task")
	}
	if err := dag.MarkRunning("A"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := dag.MarkRunning("A"); err == nil {
		t.Error("expected error marking running task as running")
	}
	if len(dag.Pending()) != 0 || len(dag.Eligible()) != 0 {
		t.Error("running task still pending")
	}
	if dag.Done() {
		t.Error("DAG done with task running")
	}
	if err := dag.MarkDone("A", wave.StatusSucceeded); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := dag.MarkDone("A", wave.StatusSucceeded); err == nil {
		t.Error("expected error finishing a task twice")
	}
	if !dag.Done() {
		t.Error("DAG not done after last task finished")
	}
}
