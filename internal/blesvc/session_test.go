package blesvc

import "testing"

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDisconnecting, "disconnecting"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDriveErrorAxisNames(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "axis x"},
		{1, "axis y"},
		{2, "axis speed"},
		{3, "axis decay"},
	}

	for _, tt := range tests {
		err := &DriveError{FailedIndex: tt.index}
		if got := err.Error(); !contains(got, tt.want) {
			t.Errorf("DriveError{FailedIndex: %d}.Error() = %q, want substring %q", tt.index, got, tt.want)
		}
	}
}

func TestConnectErrorUnwrap(t *testing.T) {
	cause := errString("device not found")
	e := &ConnectError{Address: "AA:BB:CC:DD:EE:FF", Attempts: 3, Cause: cause}
	if e.Unwrap() != cause {
		t.Errorf("ConnectError.Unwrap() did not return the wrapped cause")
	}
	if !contains(e.Error(), "3 attempts") {
		t.Errorf("ConnectError.Error() = %q, want it to mention attempt count", e.Error())
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
