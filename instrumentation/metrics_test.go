package instrumentation

import (
	"context"
	"fmt"
	"testing"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	inst, err := New(Config{Enabled: true, ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inst.Metrics()
}

func TestMetricsCreated(t *testing.T) {
	m := newTestMetrics(t)

	if m.HTTPRequestsTotal == nil || m.HTTPRequestDuration == nil {
		t.Error("HTTP instruments not created")
	}
	if m.LoginStarted == nil || m.CallbackProcessed == nil || m.CodeExchanged == nil {
		t.Error("flow instruments not created")
	}
	if m.SessionsCreated == nil || m.SessionsEvicted == nil || m.SessionsValidated == nil || m.SessionsCount == nil {
		t.Error("session instruments not created")
	}
	if m.RateLimitExceeded == nil || m.PKCEValidationFailed == nil || m.CodeReuseDetected == nil || m.FingerprintMismatch == nil {
		t.Error("security instruments not created")
	}
	if m.StorageOperationTotal == nil || m.StorageOperationDuration == nil {
		t.Error("storage instruments not created")
	}
	if m.ProviderAPICallsTotal == nil || m.ProviderAPIDuration == nil || m.ProviderAPIErrors == nil {
		t.Error("provider instruments not created")
	}
}

// Recording against no-op providers must never panic.
func TestRecordHelpers(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/login", 200, 1.5)
	m.RecordLoginStarted(ctx, "google")
	m.RecordCallbackProcessed(ctx, "google", true)
	m.RecordCallbackProcessed(ctx, "apple", false)
	m.RecordCodeExchange(ctx, "tool-client", "S256")
	m.RecordSessionCreated(ctx, "google")
	m.RecordSessionEvicted(ctx)
	m.RecordSessionValidation(ctx, "ok")
	m.RecordSessionValidation(ctx, "fingerprint_mismatch")
	m.RecordRateLimitExceeded(ctx, "callback")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordFingerprintMismatch(ctx)
	m.RecordAuditEvent(ctx, "auth_success")
	m.RecordStorageOperation(ctx, "redeem_code", "success", 0.3)
	m.RecordProviderAPICall(ctx, "google", "exchange_code", 200, 120.0, nil)
	m.RecordProviderAPICall(ctx, "google", "exchange_code", 400, 80.0, fmt.Errorf("bad request"))
	m.RecordProviderAPICall(ctx, "google", "userinfo", 503, 30.0, fmt.Errorf("unavailable"))
	m.RecordEncryptionOperation(ctx, "encrypt", 0.1)
}
