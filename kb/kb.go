// Package kb archives solver runs so they can be listed, inspected and
// exported after the process that produced them has returned.
package kb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/model"
)

var (
	// ErrNotFound is returned when no run has the requested ID.
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyExists is returned when a run ID is archived twice.
	ErrAlreadyExists = errors.New("run already exists")
)

// ProblemSummary records the shape of the instance a run solved.
type ProblemSummary struct {
	States           int       `json:"states"`
	Stages           int       `json:"stages"`
	Scenarios        int       `json:"scenarios"`
	Population       int       `json:"population"`
	AbsorptionReward float64   `json:"absorption_reward"`
	Capacity         []float64 `json:"capacity"`
}

// RunRecord is the archived outcome of one forward recursion.
type RunRecord struct {
	ID           string            `json:"id"`
	Label        string            `json:"label,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Absorption   string            `json:"absorption"`
	Objective    float64           `json:"objective"`
	Feasible     bool              `json:"feasible"`
	Elapsed      time.Duration     `json:"elapsed"`
	PolicyMatrix [][]int           `json:"policy_matrix,omitempty"`
	Stages       []core.StageStats `json:"stages,omitempty"`
	Problem      ProblemSummary    `json:"problem"`
}

// NewRunRecord captures a Result together with the problem it came from.
func NewRunRecord(id string, createdAt time.Time, p *model.Problem, absorption core.AbsorptionAccounting, res *core.Result) RunRecord {
	rec := RunRecord{
		ID:         id,
		CreatedAt:  createdAt.UTC(),
		Absorption: string(absorption),
	}
	if p != nil {
		rec.Problem = ProblemSummary{
			States:           p.NonAbsorbing(),
			Stages:           p.NumStages,
			Scenarios:        p.NumScenarios(),
			Population:       p.Population,
			AbsorptionReward: p.AbsorptionReward,
			Capacity:         append([]float64(nil), p.Capacity...),
		}
	}
	if res != nil {
		rec.Objective = res.Objective
		rec.Feasible = res.Feasible
		rec.Elapsed = res.Elapsed
		rec.Stages = append([]core.StageStats(nil), res.Stages...)
		for _, row := range res.PolicyMatrix {
			rec.PolicyMatrix = append(rec.PolicyMatrix, append([]int(nil), row...))
		}
	}
	return rec
}

// Store persists RunRecords. List returns records newest first.
type Store interface {
	Put(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	List(ctx context.Context) ([]RunRecord, error)
	Delete(ctx context.Context, id string) error
	// Subscribe registers fn for every later Put and Delete. The returned
	// function removes it again.
	Subscribe(fn func(Event)) (unsubscribe func())
	Close() error
}

// MetricsRecorder receives the archive size after every mutation.
type MetricsRecorder interface {
	SetArchivedRuns(n int)
}

// KnowledgeBase is an in-memory, thread-safe run archive.
type KnowledgeBase struct {
	mu sync.RWMutex

	runs    map[string]RunRecord
	metrics MetricsRecorder
	subs    subscribers
}

var _ Store = (*KnowledgeBase)(nil)

// NewKnowledgeBase constructs an empty archive.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{runs: make(map[string]RunRecord)}
}

// SetMetrics attaches a recorder and publishes the current size to it.
func (kb *KnowledgeBase) SetMetrics(m MetricsRecorder) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.metrics = m
	kb.publishCountLocked()
}

// Put archives rec. It returns ErrAlreadyExists if the ID is taken.
func (kb *KnowledgeBase) Put(_ context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("kb: run ID is required")
	}
	kb.mu.Lock()
	if _, exists := kb.runs[rec.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("kb: run %q: %w", rec.ID, ErrAlreadyExists)
	}
	kb.runs[rec.ID] = rec
	kb.notifyLocked(Event{Type: EventRunArchived, Run: rec})
	return nil
}

// Get returns the run with the given ID.
func (kb *KnowledgeBase) Get(_ context.Context, id string) (RunRecord, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rec, ok := kb.runs[id]
	if !ok {
		return RunRecord{}, fmt.Errorf("kb: run %q: %w", id, ErrNotFound)
	}
	return rec, nil
}

// List returns a snapshot of every run, newest first.
func (kb *KnowledgeBase) List(_ context.Context) ([]RunRecord, error) {
	kb.mu.RLock()
	res := make([]RunRecord, 0, len(kb.runs))
	for _, rec := range kb.runs {
		res = append(res, rec)
	}
	kb.mu.RUnlock()
	sortNewestFirst(res)
	return res, nil
}

// Delete removes a run.
func (kb *KnowledgeBase) Delete(_ context.Context, id string) error {
	kb.mu.Lock()
	rec, ok := kb.runs[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("kb: run %q: %w", id, ErrNotFound)
	}
	delete(kb.runs, id)
	kb.notifyLocked(Event{Type: EventRunDeleted, Run: rec})
	return nil
}

// Close is a no-op for the in-memory archive.
func (kb *KnowledgeBase) Close() error { return nil }

// notifyLocked publishes the archive size while kb.mu is still held, so
// concurrent mutations reach the gauge in the order they were applied. It
// then releases kb.mu and fans the event out.
func (kb *KnowledgeBase) notifyLocked(ev Event) {
	kb.publishCountLocked()
	kb.mu.Unlock()
	kb.subs.publish(ev)
}

func (kb *KnowledgeBase) publishCountLocked() {
	if kb.metrics != nil {
		kb.metrics.SetArchivedRuns(len(kb.runs))
	}
}

// Subscribe registers a callback for archive events. It returns an
// unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	return kb.subs.add(fn)
}

func sortNewestFirst(runs []RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
