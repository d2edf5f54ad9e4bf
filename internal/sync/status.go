package sync

// Account sync-status values persisted on the account after each run.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusWarning    = "warning"
	StatusError      = "error"
)

// Account sync-status messages describing the outcome.
const (
	MessageSyncFailed     = "sync_failed"
	MessageMeetingsFailed = "meetings_failed"
	MessageUpToDate       = "up_to_date"
	MessageSyncPartial    = "sync_partial"
	MessageSyncComplete   = "sync_complete"
)

// Result summarizes one account sync cycle.
type Result struct {
	Discovered int
	Executed   int
	Failed     int
	Status     string
	Message    string
}

// resolveStatus derives the persisted status from the run's counters.
func resolveStatus(discovered, executed, failed int) (status, message string) {
	switch {
	case failed > 0:
		return StatusWarning, MessageMeetingsFailed
	case discovered == 0:
		return StatusSuccess, MessageUpToDate
	case executed+failed < discovered:
		return StatusSuccess, MessageSyncPartial
	default:
		return StatusSuccess, MessageSyncComplete
	}
}
