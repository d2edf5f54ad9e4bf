package sync

import (
	"log"
	"math"
	"strings"

	"github.com/macjediwizard/crmcalsync/internal/calendar"
)

// Strategy represents how to pick a winner when both sides of a linked event
// pair changed since the last sync.
type Strategy string

const (
	StrategyTimestamp     Strategy = "timestamp"
	StrategyExternalBased Strategy = "external_based"
	StrategyInternalBased Strategy = "internal_based"
)

// ValidStrategies contains all valid conflict strategy values.
var ValidStrategies = map[Strategy]bool{
	StrategyTimestamp:     true,
	StrategyExternalBased: true,
	StrategyInternalBased: true,
}

// IsValid returns true if the strategy is a known valid value.
func (s Strategy) IsValid() bool {
	return ValidStrategies[s]
}

// year2038Boundary is the largest modification timestamp representable in
// 32-bit epoch seconds. Timestamps beyond it usually mean a provider sent
// garbage; they are logged but still compared as-is.
const year2038Boundary = math.MaxInt32

// suspiciousPatterns are content markers that indicate a provider let
// script-injection content through. Observability only; resolution proceeds.
var suspiciousPatterns = []string{"<script", "javascript:", "onerror="}

// Resolver decides which version of a linked event pair is authoritative.
// It is pure decision logic: it always returns one of its two inputs and
// never constructs a new event.
type Resolver struct{}

// NewResolver creates a conflict resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// DetermineWinningEvent picks the authoritative version between the current
// target-side event and the candidate source-side event. Identical content
// short-circuits to the target so convergent edits never cause a write.
// Otherwise the configured strategy decides.
func (r *Resolver) DetermineWinningEvent(target, source *calendar.Event, strategy Strategy) *calendar.Event {
	r.logDiagnostics(target)
	r.logDiagnostics(source)

	if target.ContentChecksum() == source.ContentChecksum() {
		return target
	}

	switch strategy {
	case StrategyExternalBased:
		if target.IsExternal != source.IsExternal {
			if target.IsExternal {
				return target
			}
			return source
		}
		return r.laterModified(target, source)
	case StrategyInternalBased:
		if target.IsExternal != source.IsExternal {
			if target.IsExternal {
				return source
			}
			return target
		}
		return r.laterModified(target, source)
	case StrategyTimestamp:
		return r.laterModified(target, source)
	default:
		log.Printf("conflict: unknown strategy %q, falling back to timestamp", strategy)
		return r.laterModified(target, source)
	}
}

// laterModified compares modification timestamps at second granularity and
// returns the later event. An exact tie is broken by the lexicographically
// smaller ID, so two clocks that are indistinguishable can never make the
// pair oscillate between cycles.
func (r *Resolver) laterModified(target, source *calendar.Event) *calendar.Event {
	targetSec := target.DateModified.Unix()
	sourceSec := source.DateModified.Unix()

	switch {
	case sourceSec > targetSec:
		return source
	case targetSec > sourceSec:
		return target
	case source.ID < target.ID:
		return source
	default:
		return target
	}
}

func (r *Resolver) logDiagnostics(event *calendar.Event) {
	if event.DateModified.Unix() > year2038Boundary {
		log.Printf("conflict: event %s has modification timestamp beyond 2038 boundary: %v",
			event.ID, event.DateModified)
	}
	content := strings.ToLower(event.Name + " " + event.Description + " " + event.Location)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(content, pattern) {
			log.Printf("conflict: event %s content matches unsafe pattern %q", event.ID, pattern)
			break
		}
	}
}
