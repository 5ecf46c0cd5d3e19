package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()
}

func TestRecordersAccumulate(t *testing.T) {
	RegisterMetrics()

	before := testutil.ToFloat64(sessionOpens.WithLabelValues("metrics-test"))
	RecordSessionOpen("metrics-test")
	RecordSessionOpen("metrics-test")
	if got := testutil.ToFloat64(sessionOpens.WithLabelValues("metrics-test")); got != before+2 {
		t.Fatalf("session opens = %v, want %v", got, before+2)
	}

	RecordSessionClose("metrics-test", "restart_required")
	if got := testutil.ToFloat64(sessionCloses.WithLabelValues("metrics-test", "restart_required")); got < 1 {
		t.Fatalf("session closes = %v", got)
	}

	RecordAttemptOutcome("interactive", "logged_out")
	if got := testutil.ToFloat64(attemptOutcomes.WithLabelValues("interactive", "logged_out")); got < 1 {
		t.Fatalf("attempt outcomes = %v", got)
	}

	SetLiveSessions(3)
	if got := testutil.ToFloat64(liveSessions); got != 3 {
		t.Fatalf("live sessions = %v", got)
	}

	beforeDispatch := testutil.ToFloat64(reconnectDispatches)
	RecordReconnectDispatch()
	if got := testutil.ToFloat64(reconnectDispatches); got != beforeDispatch+1 {
		t.Fatalf("reconnect dispatches = %v", got)
	}

	RecordPublishedEvent("status")
	if got := testutil.ToFloat64(publishedEvents.WithLabelValues("status")); got < 1 {
		t.Fatalf("published events = %v", got)
	}
}
