package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/macjediwizard/crmcalsync/internal/activity"
	"github.com/macjediwizard/crmcalsync/internal/calendar"
	"github.com/macjediwizard/crmcalsync/internal/provider"
	"github.com/macjediwizard/crmcalsync/internal/store"
)

var (
	ErrInvalidAccount = errors.New("invalid account")
	ErrNoJobQueue     = errors.New("no job queue configured")
)

// Provider is the calendar-side collaborator the orchestrator drives. Both
// sides of an account expose the same surface; see provider.Adapter for the
// canonical implementation.
type Provider interface {
	TestConnection(ctx context.Context) provider.ConnectionTestResult
	GetEvents(ctx context.Context, query provider.Query) ([]*calendar.Event, error)
	GetEvent(ctx context.Context, id string) (*calendar.Event, error)
	CreateEventFromSource(ctx context.Context, source *calendar.Event, syncTime time.Time) (string, error)
	UpdateEventFromSource(ctx context.Context, targetID string, source *calendar.Event, syncTime time.Time) error
	UpdateSourceEvent(ctx context.Context, targetID string, source *calendar.Event, syncTime time.Time) error
	DeleteEvent(ctx context.Context, id string) error
}

// AccountStore persists accounts and their sync-status metadata.
type AccountStore interface {
	GetAccount(id string) (*store.Account, error)
	GetValidatedAccountsBatch(limit int) ([]*store.Account, error)
	UpdateSyncMetadata(accountID string, meta store.SyncMetadata) error
}

// ProviderResolver maps an account to its internal and external providers.
// A missing external provider is a hard failure for that account's run.
type ProviderResolver interface {
	Resolve(account *store.Account) (internal, external Provider, err error)
}

// JobQueue is the async execution collaborator. Jobs run on external workers;
// the orchestrator only enqueues, deduplicates, and cancels pending work.
type JobQueue interface {
	IsAccountJobActive(accountID string) bool
	IsMeetingJobActive(operationKey string) bool
	EnqueueAccountJob(accountID string) (string, error)
	EnqueueMeetingJob(payload []byte) (string, error)
	CancelPendingMeetingJobs(operationKey string) int
}

// Options configure the orchestrator's sync cycle.
type Options struct {
	PastDays                int
	FutureDays              int
	MaxOperationsPerAccount int
	AccountBatchLimit       int
	Strategy                Strategy
}

// Orchestrator drives the end-to-end sync cycle per account: fetch both
// sides, enrich with out-of-window linked events, discover operations, apply
// each with per-operation failure isolation, and persist status metadata.
type Orchestrator struct {
	accounts  AccountStore
	providers ProviderResolver
	resolver  *Resolver
	jobs      JobQueue
	tracker   *activity.Tracker
	opts      Options
}

// NewOrchestrator creates a sync orchestrator. jobs and tracker are optional;
// without a job queue only synchronous execution is available.
func NewOrchestrator(accounts AccountStore, providers ProviderResolver, jobs JobQueue, tracker *activity.Tracker, opts Options) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		providers: providers,
		resolver:  NewResolver(),
		jobs:      jobs,
		tracker:   tracker,
		opts:      opts,
	}
}

// AttachQueue sets the job queue after construction. The queue and the
// orchestrator reference each other, so one side has to be wired late.
func (o *Orchestrator) AttachQueue(jobs JobQueue) {
	o.jobs = jobs
}

// SweepAccounts runs a synchronous sync cycle for every validated account.
// One account's failure never aborts the sweep.
func (o *Orchestrator) SweepAccounts(ctx context.Context) {
	accounts, err := o.accounts.GetValidatedAccountsBatch(o.opts.AccountBatchLimit)
	if err != nil {
		log.Printf("sweep: failed to load accounts: %v", err)
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.SyncAccount(ctx, account); err != nil {
			log.Printf("sweep: account %s failed: %v", account.ID, err)
		}
	}
}

// SyncAccount runs one full synchronous sync cycle for an account.
func (o *Orchestrator) SyncAccount(ctx context.Context, account *store.Account) (*Result, error) {
	if account == nil || account.ID == "" {
		return nil, fmt.Errorf("%w: missing account ID", ErrInvalidAccount)
	}

	now := time.Now().UTC()
	inProgress := StatusInProgress
	// Record the attempt before anything can fail, so a crash mid-run is
	// still visible in the account's metadata.
	if err := o.accounts.UpdateSyncMetadata(account.ID, store.SyncMetadata{
		LastSyncAttemptDate:   &now,
		LastSyncAttemptStatus: &inProgress,
	}); err != nil {
		log.Printf("sync: account %s: failed to record attempt: %v", account.ID, err)
	}

	if o.tracker != nil {
		o.tracker.StartRun(account.ID, account.Name)
	}

	internalProv, externalProv, err := o.providers.Resolve(account)
	if err != nil {
		return nil, o.failAccount(account, fmt.Errorf("resolving providers: %w", err))
	}

	query := provider.Query{
		Start: now.AddDate(0, 0, -o.opts.PastDays),
		End:   now.AddDate(0, 0, o.opts.FutureDays),
	}

	internalEvents, err := internalProv.GetEvents(ctx, query)
	if err != nil {
		return nil, o.failAccount(account, fmt.Errorf("fetching internal events: %w", err))
	}
	externalEvents, err := externalProv.GetEvents(ctx, query)
	if err != nil {
		return nil, o.failAccount(account, fmt.Errorf("fetching external events: %w", err))
	}

	// Pull in linked counterparts that fell outside the fetch window, so
	// matching and tombstone detection see them.
	externalEvents = o.enrichLinked(ctx, internalEvents, externalEvents, externalProv)
	internalEvents = o.enrichLinked(ctx, externalEvents, internalEvents, internalProv)

	discovery := NewDiscovery(o.resolver, o.opts.Strategy)
	operations := discovery.Discover(externalEvents, internalEvents,
		calendar.LocationInternal, account.SyncRemoval, account.UserID, account.ID)
	operations = append(operations, discovery.Discover(internalEvents, externalEvents,
		calendar.LocationExternal, account.SyncRemoval, account.UserID, account.ID)...)

	result := &Result{Discovered: len(operations)}

	for i, op := range operations {
		if o.opts.MaxOperationsPerAccount > 0 && i >= o.opts.MaxOperationsPerAccount {
			// Cap reached: the rest is left for the next cycle.
			break
		}
		if o.executeOperation(ctx, op, internalProv, externalProv) {
			result.Executed++
		} else {
			result.Failed++
		}
		if o.tracker != nil {
			o.tracker.UpdateCounts(account.ID, result.Discovered, result.Executed, result.Failed)
		}
	}

	result.Status, result.Message = resolveStatus(result.Discovered, result.Executed, result.Failed)

	syncDate := time.Now().UTC()
	if err := o.accounts.UpdateSyncMetadata(account.ID, store.SyncMetadata{
		LastSyncDate:           &syncDate,
		LastSyncAttemptStatus:  &result.Status,
		LastSyncAttemptMessage: &result.Message,
	}); err != nil {
		log.Printf("sync: account %s: failed to record result: %v", account.ID, err)
	}

	if o.tracker != nil {
		o.tracker.FinishRun(account.ID, result.Status, result.Message)
	}

	log.Printf("sync: account %s: %d discovered, %d executed, %d failed (%s/%s)",
		account.ID, result.Discovered, result.Executed, result.Failed, result.Status, result.Message)

	return result, nil
}

// failAccount records a fatal account-level failure and returns the error.
func (o *Orchestrator) failAccount(account *store.Account, cause error) error {
	status := StatusError
	message := MessageSyncFailed
	if err := o.accounts.UpdateSyncMetadata(account.ID, store.SyncMetadata{
		LastSyncAttemptStatus:  &status,
		LastSyncAttemptMessage: &message,
	}); err != nil {
		log.Printf("sync: account %s: failed to record error status: %v", account.ID, err)
	}
	if o.tracker != nil {
		o.tracker.FinishRun(account.ID, status, message)
	}
	log.Printf("sync: account %s failed: %v", account.ID, cause)
	return cause
}

// enrichLinked fetches events that the other side links to but that fell
// outside the fetched window, and appends them to that side's list. An
// individual fetch failure degrades matching for this cycle only.
func (o *Orchestrator) enrichLinked(ctx context.Context, events, other []*calendar.Event, otherProv Provider) []*calendar.Event {
	known := make(map[string]bool, len(other))
	for _, event := range other {
		known[event.ID] = true
	}

	for _, event := range events {
		if event.LinkedEventID == "" || known[event.LinkedEventID] {
			continue
		}
		linked, err := otherProv.GetEvent(ctx, event.LinkedEventID)
		if err != nil || linked == nil {
			log.Printf("sync: debug: linked event %s not fetchable: %v", event.LinkedEventID, err)
			continue
		}
		known[linked.ID] = true
		other = append(other, linked)
	}

	return other
}

// SyncEvent executes a single operation immediately, resolving providers from
// the operation's account. It reports success as a boolean so callers can
// count failures without unwinding a batch.
func (o *Orchestrator) SyncEvent(ctx context.Context, op *Operation) bool {
	if op == nil {
		return false
	}

	account, err := o.accounts.GetAccount(op.CalendarAccountID)
	if err != nil {
		log.Printf("sync: operation %s: account lookup failed: %v", op.Key(), err)
		return false
	}

	internalProv, externalProv, err := o.providers.Resolve(account)
	if err != nil {
		log.Printf("sync: operation %s: provider resolution failed: %v", op.Key(), err)
		return false
	}

	return o.executeOperation(ctx, op, internalProv, externalProv)
}

// executeOperation applies one operation with already resolved providers.
// Failures in the primary action are caught and reported as false; link-back
// failures are downgraded to warnings because discovery's link repair heals
// them on a later cycle.
func (o *Orchestrator) executeOperation(ctx context.Context, op *Operation, internalProv, externalProv Provider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sync: operation %s panicked: %v", op.Key(), r)
			ok = false
		}
	}()

	var target, source Provider
	if op.Location == calendar.LocationExternal {
		target, source = externalProv, internalProv
	} else {
		target, source = internalProv, externalProv
	}

	syncTime := time.Now().UTC()

	switch op.Action {
	case ActionCreate:
		if op.Payload == nil {
			log.Printf("sync: create operation %s has no payload", op.Key())
			return false
		}
		newID, err := target.CreateEventFromSource(ctx, op.Payload, syncTime)
		if err != nil {
			log.Printf("sync: create failed for %s: %v", op.Key(), err)
			return false
		}
		// The creation already succeeded; a failed link-back self-heals via
		// discovery's link repair next cycle.
		if err := source.UpdateSourceEvent(ctx, newID, op.Payload, syncTime); err != nil {
			log.Printf("sync: link-back after create failed for %s: %v", op.Key(), err)
		}
		return true

	case ActionUpdate:
		if op.Payload == nil || op.SubjectID == "" {
			log.Printf("sync: update operation %s is incomplete", op.Key())
			return false
		}
		if err := target.UpdateEventFromSource(ctx, op.SubjectID, op.Payload, syncTime); err != nil {
			log.Printf("sync: update failed for %s: %v", op.Key(), err)
			return false
		}
		if err := source.UpdateSourceEvent(ctx, op.SubjectID, op.Payload, syncTime); err != nil {
			log.Printf("sync: link-back after update failed for %s: %v", op.Key(), err)
		}
		return true

	case ActionDelete:
		if op.SubjectID == "" {
			log.Printf("sync: delete operation %s has no subject", op.Key())
			return false
		}
		if err := target.DeleteEvent(ctx, op.SubjectID); err != nil {
			log.Printf("sync: delete failed for %s: %v", op.Key(), err)
			return false
		}
		return true

	default:
		log.Printf("sync: unknown action %q for %s", op.Action, op.Key())
		return false
	}
}

// RunAccountJob executes a queued account-level sync. It is the worker-side
// counterpart of QueueAccount.
func (o *Orchestrator) RunAccountJob(ctx context.Context, accountID string) error {
	account, err := o.accounts.GetAccount(accountID)
	if err != nil {
		return fmt.Errorf("loading account %s: %w", accountID, err)
	}
	_, err = o.SyncAccount(ctx, account)
	return err
}

// RunMeetingJob executes a queued single-event sync from its serialized
// payload. It is the worker-side counterpart of QueueEvent.
func (o *Orchestrator) RunMeetingJob(ctx context.Context, payload []byte) bool {
	op, err := DeserializeOperation(payload)
	if err != nil {
		log.Printf("sync: rejecting malformed job payload: %v", err)
		return false
	}
	return o.SyncEvent(ctx, op)
}

// QueueAccount enqueues an account-level sync job unless an equivalent job is
// already queued or running. Returns the job ID, or empty when deduplicated.
func (o *Orchestrator) QueueAccount(accountID string) (string, error) {
	if o.jobs == nil {
		return "", ErrNoJobQueue
	}
	if accountID == "" {
		return "", fmt.Errorf("%w: missing account ID", ErrInvalidAccount)
	}
	if o.jobs.IsAccountJobActive(accountID) {
		return "", nil
	}
	return o.jobs.EnqueueAccountJob(accountID)
}

// QueueEvent enqueues a single-event sync job unless an equivalent job is
// already queued or running for the same (account, location, event) triple.
// Returns the job ID, or empty when deduplicated.
func (o *Orchestrator) QueueEvent(op *Operation) (string, error) {
	if o.jobs == nil {
		return "", ErrNoJobQueue
	}
	if o.jobs.IsMeetingJobActive(op.Key()) {
		return "", nil
	}
	payload, err := op.Serialize()
	if err != nil {
		return "", fmt.Errorf("serializing operation: %w", err)
	}
	return o.jobs.EnqueueMeetingJob(payload)
}

// QueueEventPreempt cancels still-pending jobs for the same event before
// enqueuing, so the latest direct edit wins the race. Jobs already running
// are not touched.
func (o *Orchestrator) QueueEventPreempt(op *Operation) (string, error) {
	if o.jobs == nil {
		return "", ErrNoJobQueue
	}
	if cancelled := o.jobs.CancelPendingMeetingJobs(op.Key()); cancelled > 0 {
		log.Printf("sync: cancelled %d pending jobs superseded by %s", cancelled, op.Key())
	}
	return o.QueueEvent(op)
}
