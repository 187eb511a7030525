package core

import "testing"

func TestNextStatuses(t *testing.T) {
	tests := []struct {
		from Status
		want []Status
	}{
		{StatusHQReview, []Status{StatusAccepted, StatusRejected, StatusCanceled, StatusDeleted}},
		{StatusAccepted, []Status{StatusDeleted}},
		{StatusDeleted, nil},
	}
	for _, tt := range tests {
		got := NextStatuses(tt.from)
		if len(got) != len(tt.want) {
			t.Errorf("NextStatuses(%s) = %v, want %v", tt.from, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("NextStatuses(%s) = %v, want %v", tt.from, got, tt.want)
				break
			}
			if !CanTransition(tt.from, got[i]) {
				t.Errorf("CanTransition(%s, %s) = false for a listed next status", tt.from, got[i])
			}
		}
	}

	// Callers get a copy.
	next := NextStatuses(StatusHQReview)
	next[0] = StatusMerged
	if CanTransition(StatusHQReview, StatusMerged) {
		t.Error("mutating NextStatuses result changed the transition table")
	}
}
