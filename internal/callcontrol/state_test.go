package callcontrol

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusConnecting, true},
		{StatusIdle, StatusRinging, true},
		{StatusIdle, StatusActive, false},
		{StatusIdle, StatusEnded, false},
		{StatusConnecting, StatusRinging, true},
		{StatusConnecting, StatusActive, true},
		{StatusConnecting, StatusEnded, true},
		{StatusConnecting, StatusIdle, false},
		{StatusRinging, StatusActive, true},
		{StatusRinging, StatusEnded, true},
		{StatusRinging, StatusConnecting, false},
		{StatusActive, StatusEnded, true},
		{StatusActive, StatusRinging, false},
		{StatusActive, StatusIdle, false},
		{StatusEnded, StatusIdle, true},
		{StatusEnded, StatusActive, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestActiveAlwaysReachedThroughConnectingOrRinging(t *testing.T) {
	for from := range transitions {
		if from == StatusConnecting || from == StatusRinging {
			continue
		}
		if from.CanTransitionTo(StatusActive) {
			t.Errorf("active must not be reachable from %s", from)
		}
	}
}
