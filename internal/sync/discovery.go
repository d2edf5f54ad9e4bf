package sync

import (
	"github.com/macjediwizard/crmcalsync/internal/calendar"
)

// Discovery diffs one side's event set against the other side's, producing
// the create/update/delete operations that reconcile source into target. The
// orchestrator runs it once per direction and concatenates the results.
type Discovery struct {
	resolver *Resolver
	strategy Strategy
}

// NewDiscovery creates a discovery pass using the given conflict strategy.
func NewDiscovery(resolver *Resolver, strategy Strategy) *Discovery {
	return &Discovery{
		resolver: resolver,
		strategy: strategy,
	}
}

// Discover reconciles sourceEvents into targetEvents and returns the
// operations needed, in source-list order.
//
// For each source event, in order of preference:
//   - a counterpart whose ID the source already links to, or one that links
//     back to the source, gets an update when the resolver picks the source
//     version or when its stored linkage needs repair;
//   - a linked counterpart that no longer exists is a tombstone: the source
//     event itself is deleted on its own side (when allowDeletion is set);
//   - no counterpart at all means a create on the target side.
//
// Events without an ID are skipped entirely. When several target events claim
// the same linked ID, the reverse index keeps the last one seen.
func (d *Discovery) Discover(
	sourceEvents, targetEvents []*calendar.Event,
	targetLocation calendar.Location,
	allowDeletion bool,
	userID, accountID string,
) []*Operation {
	targetsByID := make(map[string]*calendar.Event, len(targetEvents))
	targetsByLinkedID := make(map[string]*calendar.Event)
	for _, target := range targetEvents {
		if target.ID == "" {
			continue
		}
		targetsByID[target.ID] = target
		if target.LinkedEventID != "" {
			targetsByLinkedID[target.LinkedEventID] = target
		}
	}

	var operations []*Operation

	for _, source := range sourceEvents {
		if source.ID == "" {
			continue
		}

		// Tombstone: the counterpart this event linked to is gone, so the
		// event must be removed on its own side.
		if source.LinkedEventID != "" {
			if _, exists := targetsByID[source.LinkedEventID]; !exists && allowDeletion {
				operations = append(operations, NewOperation(
					userID, accountID, source.ID,
					targetLocation.Opposite(), ActionDelete, nil,
				))
				continue
			}
		}

		match := d.findMatch(source, targetsByID, targetsByLinkedID)
		if match == nil {
			operations = append(operations, NewOperation(
				userID, accountID, "",
				targetLocation, ActionCreate, source,
			))
			continue
		}

		winner := d.resolver.DetermineWinningEvent(match, source, d.strategy)
		contentChanged := winner.ID == source.ID
		linkNeedsRepair := match.LinkedEventID != source.ID
		if !contentChanged && !linkNeedsRepair {
			continue
		}

		// Repair the linkage in memory so a second pass over the same sets
		// finds the pair already matched.
		match.LinkedEventID = source.ID
		operations = append(operations, NewOperation(
			userID, accountID, match.ID,
			targetLocation, ActionUpdate, source,
		))
	}

	return operations
}

// findMatch locates the counterpart target event: first by the source's own
// linkage, then by a target event linking back at the source.
func (d *Discovery) findMatch(
	source *calendar.Event,
	targetsByID, targetsByLinkedID map[string]*calendar.Event,
) *calendar.Event {
	if source.LinkedEventID != "" {
		if target, ok := targetsByID[source.LinkedEventID]; ok {
			return target
		}
	}
	if target, ok := targetsByLinkedID[source.ID]; ok {
		return target
	}
	return nil
}
