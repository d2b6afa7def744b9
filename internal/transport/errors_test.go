package transport

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsBenign(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"network", &Error{Code: CodeNetwork}, false},
		{"already delivered", &Error{Code: CodeAlreadyDelivered}, true},
		{"delivered elsewhere wrapped", fmt.Errorf("send: %w", &Error{Code: CodeDeliveredElsewhere}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBenign(tt.err, DefaultBenignCodes); got != tt.want {
				t.Errorf("IsBenign(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsBenignCustomAllowList(t *testing.T) {
	err := &Error{Code: 80001}
	if IsBenign(err, DefaultBenignCodes) {
		t.Error("80001 should not be benign by default")
	}
	if !IsBenign(err, []int{80001}) {
		t.Error("80001 should be benign when allow-listed")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != 0 {
		t.Error("CodeOf(nil) != 0")
	}
	if CodeOf(errors.New("x")) != CodeUnknown {
		t.Error("plain error should map to CodeUnknown")
	}
	cause := errors.New("socket closed")
	err := Wrap(CodeNetwork, "send failed", cause)
	if CodeOf(err) != CodeNetwork {
		t.Errorf("CodeOf = %d, want %d", CodeOf(err), CodeNetwork)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap should keep the cause reachable")
	}
}

func TestCompleted(t *testing.T) {
	h := Completed(nil)
	if _, ok := <-h.Progress; ok {
		t.Error("Progress should be closed")
	}
	if err := <-h.Done; err != nil {
		t.Errorf("Done = %v, want nil", err)
	}
}
