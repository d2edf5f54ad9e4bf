package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
	"github.com/macjediwizard/crmcalsync/internal/provider"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "calendar.json"), "user-1")
}

func fileEvent(name string, start time.Time) *calendar.Event {
	return &calendar.Event{
		Name:         name,
		DateStart:    start,
		Type:         calendar.TypeMeeting,
		DateModified: start,
	}
}

func TestJSONFileProvider(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	t.Run("missing file reads as empty", func(t *testing.T) {
		p := newTestProvider(t)
		events, err := p.GetEvents(ctx, provider.Query{Start: base.AddDate(0, 0, -1), End: base.AddDate(0, 0, 1)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("expected no events, got %d", len(events))
		}
	})

	t.Run("create assigns an ID and persists", func(t *testing.T) {
		p := newTestProvider(t)
		id, err := p.DoCreateEvent(ctx, fileEvent("Standup", base))
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if id == "" {
			t.Fatal("expected an assigned ID")
		}

		event, err := p.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if event.Name != "Standup" || event.AssignedUserID != "user-1" {
			t.Errorf("loaded event mismatch: %+v", event)
		}
	})

	t.Run("window query filters by start", func(t *testing.T) {
		p := newTestProvider(t)
		if _, err := p.DoCreateEvent(ctx, fileEvent("In window", base)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if _, err := p.DoCreateEvent(ctx, fileEvent("Out of window", base.AddDate(1, 0, 0))); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		events, err := p.GetEvents(ctx, provider.Query{Start: base.AddDate(0, 0, -1), End: base.AddDate(0, 0, 1)})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 1 || events[0].Name != "In window" {
			t.Errorf("window filter failed: %+v", events)
		}
	})

	t.Run("update overwrites preserving the ID", func(t *testing.T) {
		p := newTestProvider(t)
		id, err := p.DoCreateEvent(ctx, fileEvent("Before", base))
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := p.DoUpdateEvent(ctx, id, fileEvent("After", base)); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		event, err := p.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if event.Name != "After" || event.ID != id {
			t.Errorf("update not applied: %+v", event)
		}
	})

	t.Run("delete removes the event", func(t *testing.T) {
		p := newTestProvider(t)
		id, err := p.DoCreateEvent(ctx, fileEvent("Doomed", base))
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := p.DoDeleteEvent(ctx, id); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := p.GetEvent(ctx, id); !errors.Is(err, provider.ErrEventNotFound) {
			t.Errorf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("operations on missing IDs fail", func(t *testing.T) {
		p := newTestProvider(t)
		if err := p.DoUpdateEvent(ctx, "nope", fileEvent("X", base)); !errors.Is(err, provider.ErrEventNotFound) {
			t.Errorf("expected ErrEventNotFound on update, got %v", err)
		}
		if err := p.DoDeleteEvent(ctx, "nope"); !errors.Is(err, provider.ErrEventNotFound) {
			t.Errorf("expected ErrEventNotFound on delete, got %v", err)
		}
	})

	t.Run("corrupt file surfaces ErrBadFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calendar.json")
		if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		p := New(path, "user-1")
		if _, err := p.GetEvents(context.Background(), provider.Query{}); !errors.Is(err, ErrBadFile) {
			t.Errorf("expected ErrBadFile, got %v", err)
		}
		if result := p.TestConnection(context.Background()); result.Success {
			t.Error("connection test should fail on a corrupt file")
		}
	})
}
