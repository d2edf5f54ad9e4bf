package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/macjediwizard/crmcalsync/internal/activity"
	"github.com/macjediwizard/crmcalsync/internal/calendar"
	"github.com/macjediwizard/crmcalsync/internal/provider"
	"github.com/macjediwizard/crmcalsync/internal/store"
)

type fakeProvider struct {
	events        map[string]*calendar.Event
	listErr       error
	createFailFor map[string]error
	updateErr     error
	deleteErr     error
	linkBackErr   error

	created   []string
	linkBacks []string
	nextID    int
}

func newFakeProvider(events ...*calendar.Event) *fakeProvider {
	p := &fakeProvider{events: make(map[string]*calendar.Event)}
	for _, event := range events {
		p.events[event.ID] = event
	}
	return p
}

func (p *fakeProvider) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	return provider.ConnectionTestResult{Success: true, Message: "ok"}
}

func (p *fakeProvider) GetEvents(ctx context.Context, query provider.Query) ([]*calendar.Event, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	var events []*calendar.Event
	for _, event := range p.events {
		events = append(events, event)
	}
	return events, nil
}

func (p *fakeProvider) GetEvent(ctx context.Context, id string) (*calendar.Event, error) {
	if event, ok := p.events[id]; ok {
		return event, nil
	}
	return nil, fmt.Errorf("%w: %s", provider.ErrEventNotFound, id)
}

func (p *fakeProvider) CreateEventFromSource(ctx context.Context, source *calendar.Event, syncTime time.Time) (string, error) {
	if err, ok := p.createFailFor[source.ID]; ok {
		return "", err
	}
	p.nextID++
	id := fmt.Sprintf("new-%d", p.nextID)
	stored := source.Clone()
	stored.ID = id
	stored.LinkedEventID = source.ID
	p.events[id] = stored
	p.created = append(p.created, source.ID)
	return id, nil
}

func (p *fakeProvider) UpdateEventFromSource(ctx context.Context, targetID string, source *calendar.Event, syncTime time.Time) error {
	if p.updateErr != nil {
		return p.updateErr
	}
	stored := source.Clone()
	stored.ID = targetID
	p.events[targetID] = stored
	return nil
}

func (p *fakeProvider) UpdateSourceEvent(ctx context.Context, targetID string, source *calendar.Event, syncTime time.Time) error {
	p.linkBacks = append(p.linkBacks, targetID)
	return p.linkBackErr
}

func (p *fakeProvider) DeleteEvent(ctx context.Context, id string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.events, id)
	return nil
}

type fakeStore struct {
	accounts []*store.Account
	metadata []store.SyncMetadata
}

func (s *fakeStore) GetAccount(id string) (*store.Account, error) {
	for _, account := range s.accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetValidatedAccountsBatch(limit int) ([]*store.Account, error) {
	if limit > 0 && len(s.accounts) > limit {
		return s.accounts[:limit], nil
	}
	return s.accounts, nil
}

func (s *fakeStore) UpdateSyncMetadata(accountID string, meta store.SyncMetadata) error {
	s.metadata = append(s.metadata, meta)
	return nil
}

func (s *fakeStore) lastStatus(t *testing.T) (status, message string) {
	t.Helper()
	for i := len(s.metadata) - 1; i >= 0; i-- {
		if s.metadata[i].LastSyncAttemptStatus != nil {
			status = *s.metadata[i].LastSyncAttemptStatus
			if s.metadata[i].LastSyncAttemptMessage != nil {
				message = *s.metadata[i].LastSyncAttemptMessage
			}
			return status, message
		}
	}
	t.Fatal("no status recorded")
	return "", ""
}

type fakeResolver struct {
	internal Provider
	external Provider
	errFor   map[string]error
}

func (r *fakeResolver) Resolve(account *store.Account) (Provider, Provider, error) {
	if err, ok := r.errFor[account.ID]; ok {
		return nil, nil, err
	}
	return r.internal, r.external, nil
}

type fakeQueue struct {
	activeAccounts map[string]bool
	activeMeetings map[string]bool
	accountJobs    []string
	meetingJobs    [][]byte
	cancelled      []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		activeAccounts: make(map[string]bool),
		activeMeetings: make(map[string]bool),
	}
}

func (q *fakeQueue) IsAccountJobActive(accountID string) bool { return q.activeAccounts[accountID] }
func (q *fakeQueue) IsMeetingJobActive(key string) bool       { return q.activeMeetings[key] }

func (q *fakeQueue) EnqueueAccountJob(accountID string) (string, error) {
	q.accountJobs = append(q.accountJobs, accountID)
	return "job-" + accountID, nil
}

func (q *fakeQueue) EnqueueMeetingJob(payload []byte) (string, error) {
	q.meetingJobs = append(q.meetingJobs, payload)
	return fmt.Sprintf("job-%d", len(q.meetingJobs)), nil
}

func (q *fakeQueue) CancelPendingMeetingJobs(key string) int {
	q.cancelled = append(q.cancelled, key)
	return 0
}

func syncAccountFixture() *store.Account {
	return &store.Account{
		ID:           "acct-1",
		UserID:       "user-1",
		Name:         "Primary",
		ProviderKind: store.ProviderCalDAV,
		Enabled:      true,
	}
}

func externalEvent(id string) *calendar.Event {
	start := time.Now().UTC().Add(24 * time.Hour)
	return &calendar.Event{
		ID:           id,
		Name:         "External " + id,
		DateStart:    start,
		Type:         calendar.TypeMeeting,
		DateModified: time.Now().UTC(),
		IsExternal:   true,
	}
}

func newTestOrchestrator(accounts *fakeStore, internal, external *fakeProvider, opts Options) *Orchestrator {
	resolver := &fakeResolver{internal: internal, external: external}
	return NewOrchestrator(accounts, resolver, nil, activity.NewTracker(), opts)
}

func TestSyncAccount(t *testing.T) {
	opts := Options{PastDays: 30, FutureDays: 90, MaxOperationsPerAccount: 100}

	t.Run("no events means up to date", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		o := newTestOrchestrator(accounts, newFakeProvider(), newFakeProvider(), opts)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Status != StatusSuccess || result.Message != MessageUpToDate {
			t.Errorf("got %s/%s", result.Status, result.Message)
		}
		if status, message := accounts.lastStatus(t); status != StatusSuccess || message != MessageUpToDate {
			t.Errorf("persisted %s/%s", status, message)
		}
	})

	t.Run("new external events are created internally with link-back", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		internal := newFakeProvider()
		external := newFakeProvider(externalEvent("ext-1"), externalEvent("ext-2"))
		o := newTestOrchestrator(accounts, internal, external, opts)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Executed != 2 || result.Failed != 0 {
			t.Errorf("executed=%d failed=%d", result.Executed, result.Failed)
		}
		if result.Status != StatusSuccess || result.Message != MessageSyncComplete {
			t.Errorf("got %s/%s", result.Status, result.Message)
		}
		if len(internal.created) != 2 {
			t.Errorf("expected 2 internal creates, got %d", len(internal.created))
		}
		if len(external.linkBacks) != 2 {
			t.Errorf("expected 2 link-backs on the external side, got %d", len(external.linkBacks))
		}
	})

	t.Run("operation cap leaves a partial sync", func(t *testing.T) {
		capped := opts
		capped.MaxOperationsPerAccount = 1
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		external := newFakeProvider(externalEvent("ext-1"), externalEvent("ext-2"), externalEvent("ext-3"))
		o := newTestOrchestrator(accounts, newFakeProvider(), external, capped)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Discovered != 3 || result.Executed != 1 {
			t.Errorf("discovered=%d executed=%d", result.Discovered, result.Executed)
		}
		if result.Status != StatusSuccess || result.Message != MessageSyncPartial {
			t.Errorf("got %s/%s", result.Status, result.Message)
		}
	})

	t.Run("one failing operation degrades to a warning", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		internal := newFakeProvider()
		internal.createFailFor = map[string]error{"ext-2": errors.New("boom")}
		external := newFakeProvider(externalEvent("ext-1"), externalEvent("ext-2"))
		o := newTestOrchestrator(accounts, internal, external, opts)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Executed != 1 || result.Failed != 1 {
			t.Errorf("executed=%d failed=%d", result.Executed, result.Failed)
		}
		if result.Status != StatusWarning || result.Message != MessageMeetingsFailed {
			t.Errorf("got %s/%s", result.Status, result.Message)
		}
	})

	t.Run("a panicking backend counts as a failed operation", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		internal := &panickingProvider{fakeProvider: newFakeProvider()}
		external := newFakeProvider(externalEvent("ext-1"))
		resolver := &fakeResolver{internal: internal, external: external}
		o := NewOrchestrator(accounts, resolver, nil, nil, opts)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Executed != 0 || result.Failed != 1 {
			t.Errorf("executed=%d failed=%d", result.Executed, result.Failed)
		}
		if result.Status != StatusWarning || result.Message != MessageMeetingsFailed {
			t.Errorf("got %s/%s", result.Status, result.Message)
		}
	})

	t.Run("link-back failure does not fail the operation", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		external := newFakeProvider(externalEvent("ext-1"))
		external.linkBackErr = errors.New("read-only calendar")
		o := newTestOrchestrator(accounts, newFakeProvider(), external, opts)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Executed != 1 || result.Failed != 0 {
			t.Errorf("executed=%d failed=%d", result.Executed, result.Failed)
		}
	})

	t.Run("provider resolution failure is recorded as sync_failed", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		resolver := &fakeResolver{errFor: map[string]error{"acct-1": errors.New("no provider")}}
		o := NewOrchestrator(accounts, resolver, nil, nil, opts)

		if _, err := o.SyncAccount(context.Background(), accounts.accounts[0]); err == nil {
			t.Fatal("expected an error")
		}
		if status, message := accounts.lastStatus(t); status != StatusError || message != MessageSyncFailed {
			t.Errorf("persisted %s/%s", status, message)
		}
	})

	t.Run("fetch failure is recorded as sync_failed", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		external := newFakeProvider()
		external.listErr = errors.New("server unavailable")
		o := newTestOrchestrator(accounts, newFakeProvider(), external, opts)

		if _, err := o.SyncAccount(context.Background(), accounts.accounts[0]); err == nil {
			t.Fatal("expected an error")
		}
		if status, _ := accounts.lastStatus(t); status != StatusError {
			t.Errorf("persisted status %s", status)
		}
	})

	t.Run("linked events outside the window are fetched before matching", func(t *testing.T) {
		account := syncAccountFixture()
		account.SyncRemoval = true
		accounts := &fakeStore{accounts: []*store.Account{account}}

		// The internal event links to an external one that the window query
		// does not return. Without enrichment it would look like a tombstone.
		linked := externalEvent("ext-far")
		linked.LinkedEventID = "int-1"
		internalEvt := &calendar.Event{
			ID:            "int-1",
			Name:          linked.Name,
			DateStart:     linked.DateStart,
			Type:          linked.Type,
			LinkedEventID: "ext-far",
			DateModified:  linked.DateModified,
		}

		internal := newFakeProvider(internalEvt)
		external := &listHidingProvider{fakeProvider: newFakeProvider(linked)}
		resolver := &fakeResolver{internal: internal, external: external}
		o := NewOrchestrator(accounts, resolver, nil, nil, opts)

		result, err := o.SyncAccount(context.Background(), accounts.accounts[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Discovered != 0 {
			t.Errorf("expected no operations after enrichment, got %d", result.Discovered)
		}
	})

	t.Run("nil account is rejected", func(t *testing.T) {
		o := newTestOrchestrator(&fakeStore{}, newFakeProvider(), newFakeProvider(), opts)
		if _, err := o.SyncAccount(context.Background(), nil); !errors.Is(err, ErrInvalidAccount) {
			t.Errorf("expected ErrInvalidAccount, got %v", err)
		}
	})
}

// listHidingProvider simulates events that exist but fall outside the window
// query: GetEvents returns nothing while GetEvent still resolves by ID.
type listHidingProvider struct {
	*fakeProvider
}

func (p *listHidingProvider) GetEvents(ctx context.Context, query provider.Query) ([]*calendar.Event, error) {
	return nil, nil
}

// panickingProvider aborts every create mid-flight, as a buggy backend would.
type panickingProvider struct {
	*fakeProvider
}

func (p *panickingProvider) CreateEventFromSource(ctx context.Context, source *calendar.Event, syncTime time.Time) (string, error) {
	panic("backend fault during create")
}

func TestSweepAccounts(t *testing.T) {
	t.Run("one failing account does not abort the sweep", func(t *testing.T) {
		first := syncAccountFixture()
		second := syncAccountFixture()
		second.ID = "acct-2"
		accounts := &fakeStore{accounts: []*store.Account{first, second}}

		external := newFakeProvider(externalEvent("ext-1"))
		internal := newFakeProvider()
		resolver := &fakeResolver{
			internal: internal,
			external: external,
			errFor:   map[string]error{"acct-1": errors.New("no provider")},
		}
		o := NewOrchestrator(accounts, resolver, nil, nil, Options{PastDays: 30, FutureDays: 90, MaxOperationsPerAccount: 100})

		o.SweepAccounts(context.Background())

		if len(internal.created) != 1 {
			t.Errorf("expected the healthy account to sync, got %d creates", len(internal.created))
		}
	})
}

func TestSyncEvent(t *testing.T) {
	opts := Options{PastDays: 30, FutureDays: 90}

	t.Run("executes a delete against the internal side", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		internal := newFakeProvider(&calendar.Event{ID: "int-1", DateStart: time.Now(), DateModified: time.Now()})
		o := newTestOrchestrator(accounts, internal, newFakeProvider(), opts)

		op := NewOperation("user-1", "acct-1", "int-1", calendar.LocationInternal, ActionDelete, nil)
		if !o.SyncEvent(context.Background(), op) {
			t.Fatal("expected success")
		}
		if _, ok := internal.events["int-1"]; ok {
			t.Error("event should have been deleted")
		}
	})

	t.Run("unknown account fails", func(t *testing.T) {
		o := newTestOrchestrator(&fakeStore{}, newFakeProvider(), newFakeProvider(), opts)
		op := NewOperation("user-1", "missing", "int-1", calendar.LocationInternal, ActionDelete, nil)
		if o.SyncEvent(context.Background(), op) {
			t.Error("expected failure for unknown account")
		}
	})
}

func TestQueueing(t *testing.T) {
	opts := Options{}

	t.Run("account job is deduplicated", func(t *testing.T) {
		queue := newFakeQueue()
		queue.activeAccounts["acct-1"] = true
		o := NewOrchestrator(&fakeStore{}, &fakeResolver{}, queue, nil, opts)

		id, err := o.QueueAccount("acct-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "" || len(queue.accountJobs) != 0 {
			t.Error("duplicate account job should not be enqueued")
		}
	})

	t.Run("meeting job is deduplicated by key", func(t *testing.T) {
		queue := newFakeQueue()
		op := NewOperation("u1", "acct-1", "int-1", calendar.LocationInternal, ActionDelete, nil)
		queue.activeMeetings[op.Key()] = true
		o := NewOrchestrator(&fakeStore{}, &fakeResolver{}, queue, nil, opts)

		id, err := o.QueueEvent(op)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "" || len(queue.meetingJobs) != 0 {
			t.Error("duplicate meeting job should not be enqueued")
		}
	})

	t.Run("preempt cancels pending jobs before enqueuing", func(t *testing.T) {
		queue := newFakeQueue()
		op := NewOperation("u1", "acct-1", "int-1", calendar.LocationInternal, ActionDelete, nil)
		o := NewOrchestrator(&fakeStore{}, &fakeResolver{}, queue, nil, opts)

		if _, err := o.QueueEventPreempt(op); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(queue.cancelled) != 1 || queue.cancelled[0] != op.Key() {
			t.Error("pending jobs should be cancelled first")
		}
		if len(queue.meetingJobs) != 1 {
			t.Error("job should be enqueued after cancellation")
		}
	})

	t.Run("no queue configured is an error", func(t *testing.T) {
		o := NewOrchestrator(&fakeStore{}, &fakeResolver{}, nil, nil, opts)
		if _, err := o.QueueAccount("acct-1"); !errors.Is(err, ErrNoJobQueue) {
			t.Errorf("expected ErrNoJobQueue, got %v", err)
		}
	})
}

func TestRunMeetingJob(t *testing.T) {
	t.Run("rejects malformed payload", func(t *testing.T) {
		o := newTestOrchestrator(&fakeStore{}, newFakeProvider(), newFakeProvider(), Options{})
		if o.RunMeetingJob(context.Background(), []byte("{")) {
			t.Error("malformed payload should fail")
		}
	})

	t.Run("executes a valid payload", func(t *testing.T) {
		accounts := &fakeStore{accounts: []*store.Account{syncAccountFixture()}}
		internal := newFakeProvider(&calendar.Event{ID: "int-1", DateStart: time.Now(), DateModified: time.Now()})
		o := newTestOrchestrator(accounts, internal, newFakeProvider(), Options{})

		op := NewOperation("user-1", "acct-1", "int-1", calendar.LocationInternal, ActionDelete, nil)
		payload, err := op.Serialize()
		if err != nil {
			t.Fatalf("serialize failed: %v", err)
		}
		if !o.RunMeetingJob(context.Background(), payload) {
			t.Error("expected the job to succeed")
		}
	})
}
