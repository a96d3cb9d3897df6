// Package graph provides the dependency graph of subtasks produced by
// decomposition and consumed by the execution engine.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ordino-dev/ordino/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the subtask graph.
var ErrCycleDetected = errors.New("cycle detected")

// DAG is a directed acyclic graph of subtasks. It is immutable after Build
// except for subtask status fields, which are mutated only through
// SetStatus by the execution engine.
type DAG struct {
	mu sync.RWMutex
	// taskID is the originating task.
	taskID string
	// order preserves the decomposition order of subtask IDs.
	order []string
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// edges maps subtask ID to the IDs it depends on.
	edges map[string][]string
	// groups is the precomputed parallel-group partition (topological layers).
	groups [][]string
}

// Build constructs a DAG from a slice of subtasks. It rejects dependencies
// on unknown subtasks, duplicate IDs, and cycles. Cycle detection happens
// here, at construction time, never during execution.
func Build(taskID string, subtasks []*models.Subtask) (*DAG, error) {
	d := &DAG{
		taskID: taskID,
		nodes:  make(map[string]*models.Subtask, len(subtasks)),
		edges:  make(map[string][]string, len(subtasks)),
	}

	for _, st := range subtasks {
		if _, dup := d.nodes[st.ID]; dup {
			return nil, fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		if st.Status == "" {
			st.Status = models.SubtaskPending
		}
		d.nodes[st.ID] = st
		d.order = append(d.order, st.ID)
		d.edges[st.ID] = nil
	}

	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := d.nodes[depID]; !exists {
				return nil, fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, depID)
			}
			d.edges[st.ID] = append(d.edges[st.ID], depID)
		}
	}

	groups, err := d.computeGroups()
	if err != nil {
		return nil, err
	}
	d.groups = groups

	return d, nil
}

// computeGroups partitions the graph into topological layers using Kahn's
// algorithm: repeatedly extract the set of nodes with zero remaining
// in-degree. Nodes left over after extraction stalls form a cycle.
func (d *DAG) computeGroups() ([][]string, error) {
	remaining := make(map[string]int, len(d.nodes))
	for id, deps := range d.edges {
		remaining[id] = len(deps)
	}

	var groups [][]string
	for len(remaining) > 0 {
		var layer []string
		// Iterate in decomposition order so group membership is stable.
		for _, id := range d.order {
			if deg, ok := remaining[id]; ok && deg == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, ErrCycleDetected
		}
		for _, id := range layer {
			delete(remaining, id)
		}
		for id := range remaining {
			for _, depID := range d.edges[id] {
				for _, done := range layer {
					if depID == done {
						remaining[id]--
					}
				}
			}
		}
		groups = append(groups, layer)
	}

	return groups, nil
}

// TaskID returns the originating task ID.
func (d *DAG) TaskID() string {
	return d.taskID
}

// Size returns the number of subtasks in the graph.
func (d *DAG) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// Groups returns the parallel-group partition. Each group is a maximal set
// of subtasks whose dependencies are all satisfied by earlier groups.
func (d *DAG) Groups() [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([][]string, len(d.groups))
	for i, g := range d.groups {
		out[i] = append([]string(nil), g...)
	}
	return out
}

// Subtask returns the subtask for a given ID, or nil if not found.
func (d *DAG) Subtask(id string) *models.Subtask {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[id]
}

// Subtasks returns all subtasks in decomposition order.
func (d *DAG) Subtasks() []*models.Subtask {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.Subtask, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// Dependencies returns the IDs the given subtask depends on.
func (d *DAG) Dependencies(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.edges[id]...)
}

// SetStatus updates a subtask's status. Unknown IDs are ignored.
func (d *DAG) SetStatus(id string, status models.SubtaskStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.nodes[id]; ok {
		st.Status = status
	}
}

// Status returns the current status of a subtask, or "" for unknown IDs.
func (d *DAG) Status(id string) models.SubtaskStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if st, ok := d.nodes[id]; ok {
		return st.Status
	}
	return ""
}

// DepsCompleted returns true when every dependency of the given subtask has
// status completed.
func (d *DAG) DepsCompleted(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, depID := range d.edges[id] {
		dep, ok := d.nodes[depID]
		if !ok || dep.Status != models.SubtaskCompleted {
			return false
		}
	}
	return true
}

// CancelPending marks every non-terminal subtask cancelled. Idempotent.
func (d *DAG) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, st := range d.nodes {
		if !st.Status.Terminal() {
			st.Status = models.SubtaskCancelled
		}
	}
}

// Summary reports the decomposition shape.
func (d *DAG) Summary() models.DAGSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return models.DAGSummary{
		SubtaskCount: len(d.nodes),
		GroupCount:   len(d.groups),
	}
}
