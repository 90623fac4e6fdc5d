// Package scheduler tracks dependency order and progress of the tasks in one wave.
package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/usorama/rad-engineer/internal/wave"
)

// NodeStatus is the scheduling state of a task in the DAG.
type NodeStatus int

const (
	NodePending NodeStatus = iota // Waiting for dependencies or a free worker
	NodeRunning                   // Dispatched
	NodeDone                      // Terminal result recorded
)

type node struct {
	task   wave.Task
	status NodeStatus
	result wave.TaskStatus // Meaningful once status is NodeDone
}

// DAG represents the dependency graph of a wave.
type DAG struct {
	mu    sync.RWMutex
	nodes map[string]*node
	order []string // Insertion order, used for deterministic eligibility
}

// NewDAG builds a DAG from tasks and validates it.
func NewDAG(tasks []wave.Task) (*DAG, error) {
	d := &DAG{
		nodes: make(map[string]*node, len(tasks)),
	}
	for _, t := range tasks {
		if err := d.add(t); err != nil {
			return nil, err
		}
	}
	if _, err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DAG) add(task wave.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task with empty ID")
	}
	if _, exists := d.nodes[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	d.nodes[task.ID] = &node{task: task}
	d.order = append(d.order, task.ID)
	return nil
}

// Validate checks that every dependency exists and the graph is acyclic.
// Returns task IDs in topological order.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.order {
		for _, depID := range d.nodes[id].task.DependsOn {
			if _, exists := d.nodes[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range d.order {
		deps := d.nodes[id].task.DependsOn
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("wave contains dependency cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.nodes) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range d.order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Eligible returns pending tasks whose dependencies all succeeded, in input order.
func (d *DAG) Eligible() []wave.Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var eligible []wave.Task
	for _, id := range d.order {
		n := d.nodes[id]
		if n.status != NodePending {
			continue
		}
		ready := true
		for _, depID := range n.task.DependsOn {
			dep := d.nodes[depID]
			if dep.status != NodeDone || dep.result != wave.StatusSucceeded {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, n.task)
		}
	}
	return eligible
}

// Blocked returns pending tasks with at least one dependency that finished
// without success, paired with the first such dependency.
func (d *DAG) Blocked() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	blocked := make(map[string]string)
	for _, id := range d.order {
		n := d.nodes[id]
		if n.status != NodePending {
			continue
		}
		for _, depID := range n.task.DependsOn {
			dep := d.nodes[depID]
			if dep.status == NodeDone && dep.result != wave.StatusSucceeded {
				blocked[id] = depID
				break
			}
		}
	}
	return blocked
}

// MarkRunning records that a task was dispatched.
func (d *DAG) MarkRunning(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if n.status != NodePending {
		return fmt.Errorf("task %q is not pending", taskID)
	}
	n.status = NodeRunning
	return nil
}

// MarkDone records a task's terminal status.
func (d *DAG) MarkDone(taskID string, status wave.TaskStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if n.status == NodeDone {
		return fmt.Errorf("task %q already finished", taskID)
	}
	n.status = NodeDone
	n.result = status
	return nil
}

// Pending returns tasks not yet dispatched, in input order.
func (d *DAG) Pending() []wave.Task {
	return d.withStatus(NodePending)
}

func (d *DAG) withStatus(status NodeStatus) []wave.Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var tasks []wave.Task
	for _, id := range d.order {
		if n := d.nodes[id]; n.status == status {
			tasks = append(tasks, n.task)
		}
	}
	return tasks
}

// Done reports whether every task has a terminal result.
func (d *DAG) Done() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, n := range d.nodes {
		if n.status != NodeDone {
			return false
		}
	}
	return true
}
