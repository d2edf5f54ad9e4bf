// Package registry maps calendar accounts to their provider pair.
package registry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/macjediwizard/crmcalsync/internal/caldav"
	"github.com/macjediwizard/crmcalsync/internal/jsonfile"
	"github.com/macjediwizard/crmcalsync/internal/provider"
	"github.com/macjediwizard/crmcalsync/internal/store"
	"github.com/macjediwizard/crmcalsync/internal/sync"
	"github.com/macjediwizard/crmcalsync/internal/validator"
)

// Registry builds the (internal, external) provider pair for an account.
// The internal side is always the CRM store; the external side depends on
// the account's provider kind.
type Registry struct {
	store     *store.Store
	validator *validator.Validator
	rps       rate.Limit
	burst     int
}

// New creates a registry. rps/burst bound outbound provider calls per
// adapter; rps <= 0 disables rate limiting.
func New(s *store.Store, v *validator.Validator, rps float64, burst int) *Registry {
	return &Registry{
		store:     s,
		validator: v,
		rps:       rate.Limit(rps),
		burst:     burst,
	}
}

func (r *Registry) limiter() *rate.Limiter {
	if r.rps <= 0 {
		return nil
	}
	return rate.NewLimiter(r.rps, r.burst)
}

// Resolve returns the internal and external providers for an account.
// An account without a usable external configuration is a hard failure.
func (r *Registry) Resolve(account *store.Account) (internal, external sync.Provider, err error) {
	if account.UserID == "" {
		return nil, nil, fmt.Errorf("%w: account %s has no user", provider.ErrMissingProvider, account.ID)
	}

	hooks, err := r.externalHooks(account)
	if err != nil {
		return nil, nil, err
	}

	internal = provider.NewAdapter(store.NewEventProvider(r.store, account.UserID), false, r.limiter())
	external = provider.NewAdapter(hooks, true, r.limiter())
	return internal, external, nil
}

func (r *Registry) externalHooks(account *store.Account) (provider.Hooks, error) {
	switch account.ProviderKind {
	case store.ProviderCalDAV:
		if err := r.validator.ValidateEndpointURL(account.ExternalURL); err != nil {
			return nil, fmt.Errorf("%w: account %s: %w", provider.ErrMissingProvider, account.ID, err)
		}
		return caldav.NewClient(
			account.ExternalURL,
			account.ExternalUsername,
			account.ExternalPassword,
			account.ExternalCalendarID,
			account.UserID,
		)
	case store.ProviderJSONFile:
		if err := r.validator.ValidateFilePath(account.FilePath); err != nil {
			return nil, fmt.Errorf("%w: account %s: %w", provider.ErrMissingProvider, account.ID, err)
		}
		return jsonfile.New(account.FilePath, account.UserID), nil
	default:
		return nil, fmt.Errorf("%w: account %s: unknown kind %q",
			provider.ErrMissingProvider, account.ID, account.ProviderKind)
	}
}

// TestAccount checks the account's external provider and records the result
// on the account's connection-status metadata.
func (r *Registry) TestAccount(ctx context.Context, account *store.Account) provider.ConnectionTestResult {
	result := r.testExternal(ctx, account)

	status := "failed"
	if result.Success {
		status = "ok"
	}
	now := time.Now().UTC()
	if err := r.store.UpdateSyncMetadata(account.ID, store.SyncMetadata{
		LastConnectionStatus: &status,
		LastConnectionTest:   &now,
	}); err != nil {
		result.Message = fmt.Sprintf("%s (status not recorded: %v)", result.Message, err)
	}

	return result
}

// testExternal runs the external-side checks for one account: configuration
// resolution, a capability check for CalDAV endpoints, then the authenticated
// connection test.
func (r *Registry) testExternal(ctx context.Context, account *store.Account) provider.ConnectionTestResult {
	_, external, err := r.Resolve(account)
	if err != nil {
		return provider.ConnectionTestResult{Message: err.Error()}
	}

	if account.ProviderKind == store.ProviderCalDAV {
		if err := r.validator.ValidateCalDAVEndpoint(ctx, account.ExternalURL); err != nil {
			return provider.ConnectionTestResult{Message: err.Error()}
		}
	}

	return external.TestConnection(ctx)
}
