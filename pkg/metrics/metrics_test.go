package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordKVOperationIncrementsCounterByStatus(t *testing.T) {
	kvOperations.Reset()
	RecordKVOperation("cf_state", "read", nil, time.Millisecond)
	RecordKVOperation("cf_state", "read", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(kvOperations.WithLabelValues("cf_state", "read", "ok")); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(kvOperations.WithLabelValues("cf_state", "read", "error")); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
}

func TestSetConnCacheStateSetsGauge(t *testing.T) {
	SetConnCacheState("idle", 3)
	if got := testutil.ToFloat64(connCacheState.WithLabelValues("idle")); got != 3 {
		t.Fatalf("idle gauge = %v, want 3", got)
	}
}

func TestRecordPromiseOutcomeIncrementsCounter(t *testing.T) {
	promiseOutcomes.Reset()
	RecordPromiseOutcome("files", "Change")
	RecordPromiseOutcome("files", "Change")
	if got := testutil.ToFloat64(promiseOutcomes.WithLabelValues("files", "Change")); got != 2 {
		t.Fatalf("count = %v, want 2", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	RecordLockContention("global")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}
