package sync

import "testing"

func TestResolveStatus(t *testing.T) {
	tests := []struct {
		name        string
		discovered  int
		executed    int
		failed      int
		wantStatus  string
		wantMessage string
	}{
		{"nothing to do", 0, 0, 0, StatusSuccess, MessageUpToDate},
		{"all executed", 5, 5, 0, StatusSuccess, MessageSyncComplete},
		{"cap left a remainder", 10, 3, 0, StatusSuccess, MessageSyncPartial},
		{"one failure", 5, 4, 1, StatusWarning, MessageMeetingsFailed},
		{"failures trump partial", 10, 3, 2, StatusWarning, MessageMeetingsFailed},
		{"all failed", 3, 0, 3, StatusWarning, MessageMeetingsFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := resolveStatus(tt.discovered, tt.executed, tt.failed)
			if status != tt.wantStatus || message != tt.wantMessage {
				t.Errorf("got %s/%s, want %s/%s", status, message, tt.wantStatus, tt.wantMessage)
			}
		})
	}
}
