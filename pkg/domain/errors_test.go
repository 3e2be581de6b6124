package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want FailureReason
	}{
		{nil, ReasonNone},
		{fmt.Errorf("%w: status 429", ErrRateLimited), ReasonRateLimited},
		{fmt.Errorf("%w: status 402", ErrQuotaExceeded), ReasonQuotaExceeded},
		{fmt.Errorf("reading: %w", context.Canceled), ReasonCancelled},
		{fmt.Errorf("%w: %w", ErrCancelled, ErrIdleTimeout), ReasonCancelled},
		{ErrIdleTimeout, ReasonCancelled},
		{errors.New("boom"), ReasonProviderError},
	}

	for _, test := range tests {
		if got := ReasonOf(test.err); got != test.want {
			t.Errorf("ReasonOf(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}

func TestFailureReasonErrRoundTrip(t *testing.T) {
	for _, r := range []FailureReason{ReasonRateLimited, ReasonQuotaExceeded, ReasonProviderError, ReasonCancelled} {
		if got := ReasonOf(r.Err()); got != r {
			t.Errorf("ReasonOf(%q.Err()) = %q", r, got)
		}
	}
}

func TestCallbacksDispatchSkipsNil(t *testing.T) {
	var deltas []string
	cb := Callbacks{OnDelta: func(text string) { deltas = append(deltas, text) }}

	cb.Dispatch(SessionEvent{Type: SessionEventDelta, Text: "a"})
	cb.Dispatch(SessionEvent{Type: SessionEventComplete})
	cb.Dispatch(SessionEvent{Type: SessionEventError, Err: ErrProvider})

	if len(deltas) != 1 || deltas[0] != "a" {
		t.Fatalf("deltas = %v", deltas)
	}
}
