package events

import (
	"context"
	"testing"
)

func TestVisitIDRoundTrip(t *testing.T) {
	ctx := ContextWithVisitID(context.Background(), "visit_abc123")
	got := VisitIDFromContext(ctx)
	if got != "visit_abc123" {
		t.Errorf("got %q, want %q", got, "visit_abc123")
	}
}

func TestVisitIDFromEmptyContext(t *testing.T) {
	got := VisitIDFromContext(context.Background())
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}
