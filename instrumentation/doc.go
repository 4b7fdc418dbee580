// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the plugin-oauth library.
//
// This package enables observability across all library layers through:
// - Metrics: Counters, histograms, and gauges for monitoring OAuth operations
// - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
//	import "github.com/giantswarm/plugin-oauth/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-oauth-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oauth.http.request.duration{endpoint} - Request duration in milliseconds
//
// OAuth Flows:
//   - oauth.authorization.started{client_id} - Authorization flows started
//   - oauth.code.confirmed{client_id} - Authorization codes confirmed
//   - oauth.code.exchanged{client_id, pkce_method} - Authorization codes exchanged
//   - oauth.token.refreshed{client_id} - Tokens refreshed
//   - oauth.token.revoked{client_id} - Tokens revoked
//   - oauth.client.registered{client_type} - Clients registered
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type} - Rate limit violations
//   - oauth.pkce.validation_failed{method} - PKCE validation failures
//   - oauth.code.reuse_detected - Authorization code replay attempts
//   - oauth.token.reuse_detected - Refresh token replay attempts
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Operation duration in milliseconds
//   - storage.size.* - Current entity counts (clients, codes, tokens)
//
// # Performance
//
// When instrumentation is not configured or disabled, no-op providers are used
// and there is no measurable overhead.
//
// # Security Considerations
//
// This package collects observability data, not credentials. When
// instrumenting OAuth flows you MUST:
//   - NEVER record actual token values, authorization codes, or secrets
//   - NEVER record PKCE verifiers
//   - ONLY record metadata (token kinds, expiry times, validation results)
//
// Client IP addresses may be considered PII in some jurisdictions; set
// Config.LogClientIPs to false to omit them from spans and metrics.
package instrumentation
