package blesvc

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		class   ErrorClass
		attempt int
		want    time.Duration
	}{
		{"operation in progress attempt 1", ClassOperationInProgress, 1, 3500 * time.Millisecond},
		{"operation in progress attempt 2", ClassOperationInProgress, 2, 4000 * time.Millisecond},
		{"link aborted attempt 1", ClassLinkAborted, 1, 3000 * time.Millisecond},
		{"generic failure attempt 1", ClassGenericFailure, 1, 2000 * time.Millisecond},
		{"device not found is fixed regardless of attempt", ClassDeviceNotFound, 1, 4000 * time.Millisecond},
		{"device not found attempt 3 still fixed", ClassDeviceNotFound, 3, 4000 * time.Millisecond},
		{"other attempt 1", ClassOther, 1, 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDelay(tt.class, tt.attempt); got != tt.want {
				t.Errorf("backoffDelay(%v, %d) = %v, want %v", tt.class, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestClearsStaleLinkOnRetry(t *testing.T) {
	if !clearsStaleLinkOnRetry(ClassLinkAborted) {
		t.Errorf("ClassLinkAborted should trigger a stale-link clear")
	}
	for _, c := range []ErrorClass{ClassOperationInProgress, ClassGenericFailure, ClassDeviceNotFound, ClassOther} {
		if clearsStaleLinkOnRetry(c) {
			t.Errorf("%v should not trigger a stale-link clear", c)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ErrorClass
	}{
		{"bluez in progress", "Operation already in progress", ClassOperationInProgress},
		{"connection abort", "connection abort", ClassLinkAborted},
		{"software caused abort", "Software caused connection abort", ClassLinkAborted},
		{"device not found", "device not found", ClassDeviceNotFound},
		{"not available", "device not available", ClassDeviceNotFound},
		{"generic timeout", "operation timed out", ClassGenericFailure},
		{"generic failed", "connect failed", ClassGenericFailure},
		{"unrecognized", "gremlins in the radio", ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errString(tt.msg)
			if got := ClassifyError(err); got != tt.want {
				t.Errorf("ClassifyError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
