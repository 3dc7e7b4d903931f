package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/nats-io/nats.go"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"no servers", nats.ErrNoServers, true, true},
		{"timeout", nats.ErrTimeout, true, true},
		{"connection closed", nats.ErrConnectionClosed, true, true},
		{"canceled", context.Canceled, false, false},
		{"unknown", errors.New("boom"), false, true},
	}
	for _, tc := range cases {
		class := classifyNATSError(tc.err)
		if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
			t.Fatalf("%s: classification = %+v, want retryable=%v record=%v", tc.name, class, tc.retryable, tc.record)
		}
	}
}

func TestWrapTemporaryMarksRetryableErrors(t *testing.T) {
	err := wrapTemporaryIfNeeded(nats.ErrTimeout)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("timeout should wrap as temporary, got %v", err)
	}

	plain := errors.New("subject not permitted")
	if got := wrapTemporaryIfNeeded(plain); got != plain {
		t.Fatalf("non-retryable error changed: %v", got)
	}

	// Already-wrapped errors pass through once.
	if got := wrapTemporaryIfNeeded(err); got != err {
		t.Fatalf("double wrap: %v", got)
	}
}
