package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryIsSingleton(t *testing.T) {
	first := Registry("test")
	second := Registry("other")
	if first != second {
		t.Fatal("expected the same metrics instance")
	}

	first.WebhookRequests.WithLabelValues("POST", "ok").Inc()
	if got := testutil.ToFloat64(second.WebhookRequests.WithLabelValues("POST", "ok")); got != 1 {
		t.Fatalf("expected counter 1, got %v", got)
	}
}
