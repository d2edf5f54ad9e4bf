// Package activity tracks live and recently finished account sync runs.
package activity

import (
	"sync"
	"time"
)

// SyncRun represents the state of one account-level sync cycle.
type SyncRun struct {
	AccountID   string     `json:"account_id"`
	AccountName string     `json:"account_name"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	Discovered  int        `json:"operations_discovered"`
	Executed    int        `json:"operations_executed"`
	Failed      int        `json:"operations_failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

// Tracker tracks sync runs across all accounts.
type Tracker struct {
	mu            sync.RWMutex
	active        map[string]*SyncRun // accountID -> run
	recent        []*SyncRun          // Recently completed runs
	maxRecentRuns int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:        make(map[string]*SyncRun),
		recent:        make([]*SyncRun, 0),
		maxRecentRuns: 20, // Keep last 20 completed runs
	}
}

// StartRun begins tracking a new account sync.
func (t *Tracker) StartRun(accountID, accountName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[accountID] = &SyncRun{
		AccountID:   accountID,
		AccountName: accountName,
		Status:      "running",
		StartedAt:   time.Now(),
	}
}

// UpdateCounts records operation progress for a running sync.
func (t *Tracker) UpdateCounts(accountID string, discovered, executed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if run, exists := t.active[accountID]; exists {
		run.Discovered = discovered
		run.Executed = executed
		run.Failed = failed
	}
}

// FinishRun marks a run as completed and moves it to recent.
func (t *Tracker) FinishRun(accountID, status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, exists := t.active[accountID]
	if !exists {
		return
	}

	now := time.Now()
	run.CompletedAt = &now
	run.Duration = now.Sub(run.StartedAt).Round(time.Millisecond).String()
	run.Status = status
	run.Message = message

	t.recent = append([]*SyncRun{run}, t.recent...)
	if len(t.recent) > t.maxRecentRuns {
		t.recent = t.recent[:t.maxRecentRuns]
	}

	delete(t.active, accountID)
}

// GetActive returns all currently running syncs.
func (t *Tracker) GetActive() []*SyncRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncRun, 0, len(t.active))
	for _, run := range t.active {
		// Copy to avoid races on the live entry
		snapshot := *run
		snapshot.Duration = time.Since(run.StartedAt).Round(time.Millisecond).String()
		result = append(result, &snapshot)
	}
	return result
}

// GetRecent returns recently completed syncs, newest first.
func (t *Tracker) GetRecent() []*SyncRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncRun, len(t.recent))
	for i, run := range t.recent {
		snapshot := *run
		result[i] = &snapshot
	}
	return result
}

// IsAccountSyncing returns true if the given account is currently syncing.
func (t *Tracker) IsAccountSyncing(accountID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.active[accountID]
	return exists
}
