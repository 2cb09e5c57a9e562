package observability

import (
	"testing"
	"time"

	"github.com/danmuck/simp/internal/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordSent("initiator", "data")
	RecordReceived("responder", "ack")
	RecordRetransmit("initiator")
	RecordDelivery("responder", false)
	RecordDelivery("responder", true)
	RecordDiscard("responder", "malformed")
	RecordDeliveryFailure("initiator")
	SessionOpened("initiator")
	SessionClosed("initiator")
	ObserveAckRTT("initiator", 3*time.Millisecond)
	RecordListenerReject("busy")
	RecordHTTPRequest("simp-server", "GET", "/health", 200, 12*time.Millisecond)

	logging.Infof("observability/metrics: registration idempotent and recording paths executed")
}

func TestRecordDeliverySplitsOutcomes(t *testing.T) {
	before := testutil.ToFloat64(deliveries.WithLabelValues("test-role", "duplicate"))
	RecordDelivery("test-role", true)
	RecordDelivery("test-role", true)
	RecordDelivery("test-role", false)
	after := testutil.ToFloat64(deliveries.WithLabelValues("test-role", "duplicate"))
	if after-before != 2 {
		t.Fatalf("unexpected duplicate delta=%v", after-before)
	}
	if got := testutil.ToFloat64(deliveries.WithLabelValues("test-role", "delivered")); got != 1 {
		t.Fatalf("unexpected delivered=%v", got)
	}
}
