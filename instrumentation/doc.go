// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the authentication core: metrics for login flows, sessions, and the local
// authorization-code grant, plus tracing helpers for the HTTP and storage
// layers.
//
// Enable instrumentation and pass it to the server configuration:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP layer:
//   - auth.http.requests.total{method, endpoint, status}
//   - auth.http.request.duration{endpoint}
//
// Login flows:
//   - auth.login.started{provider}
//   - auth.callback.processed{provider, success}
//   - auth.code.exchanged{client_id, pkce_method}
//
// Sessions:
//   - auth.session.created{provider}
//   - auth.session.evicted
//   - auth.session.validated{result}
//
// Security:
//   - auth.rate_limit.exceeded{limiter_type}
//   - auth.pkce.validation_failed{method}
//   - auth.code.reuse_detected
//   - auth.fingerprint.mismatch
//   - auth.audit.events.total{event_type}
//   - auth.encryption.operations.total{operation}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.codes.count, storage.clients.count, auth.sessions.count (gauges)
//
// Providers:
//   - provider.api.calls.total{provider, operation, status}
//   - provider.api.duration{provider, operation}
//   - provider.api.errors.total{provider, operation, error_type}
//
// When Enabled is false all instruments are backed by no-op providers, so
// recording is safe and free in deployments that do not export telemetry.
package instrumentation
