package job

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusComputing, false},
		{StatusStored, true},
		{StatusDiscarded, true},
		{StatusLost, true},
		{StatusTimedOut, true},
		{StatusDeadLettered, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestJobPosition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		payload string
		want    int64
		wantErr bool
	}{
		{"10", 10, false},
		{" 0 ", 0, false},
		{"-1", 0, true},
		{PlaceholderPayload, 0, true},
		{"", 0, true},
		{"1.5", 0, true},
	}
	for _, tt := range tests {
		j := &Job{Payload: tt.payload}
		got, err := j.Position()
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidJob) {
				t.Errorf("Position(%q) err = %v, want ErrInvalidJob", tt.payload, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Position(%q) = %d, %v, want %d", tt.payload, got, err, tt.want)
		}
	}
}

func TestParsePosition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		max     int64
		wantErr bool
	}{
		{"zero", "0", 35, false},
		{"at bound", "35", 35, false},
		{"above bound", "36", 35, true},
		{"negative", "-1", 35, true},
		{"not a number", "ten", 35, true},
		{"unbounded", "90", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePosition(tt.raw, tt.max)
			if tt.wantErr && !errors.Is(err, ErrBadRequest) {
				t.Errorf("ParsePosition(%q) err = %v, want ErrBadRequest", tt.raw, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ParsePosition(%q) unexpected error: %v", tt.raw, err)
			}
		})
	}
}

func TestResultKey(t *testing.T) {
	t.Parallel()
	if got := ResultKey(42); got != "fib:42" {
		t.Errorf("ResultKey(42) = %q, want %q", got, "fib:42")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusStored},
		{fmt.Errorf("parse: %w", ErrInvalidJob), StatusDiscarded},
		{fmt.Errorf("compute: %w", ErrTimedOut), StatusTimedOut},
		{fmt.Errorf("put: %w", ErrStoreWriteFailure), StatusLost},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
