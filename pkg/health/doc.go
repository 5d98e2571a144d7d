/*
Package health probes running instances to verify they are actually serving
traffic, as opposed to merely existing as processes.

Two probe protocols are supported behind one Checker interface:

  - TCPChecker connects to a port. Success is Healthy, connection refused
    or reset is Unreachable (nothing listening), a timeout is Unhealthy
    (port held but not accepting).
  - HTTPChecker performs a request and compares the response status against
    the expected value, or any 2xx when unspecified.

A Prober wraps a Checker in the retry loop: fixed interval between attempts,
bounded by an overall deadline. The final verdict on deadline is Unhealthy
regardless of the Unreachable/Unhealthy mix of individual attempts; the mix
is logged but does not change the outcome, since either way the service is
not serving.

Checkers use fluent With* builders for optional configuration:

	checker := health.NewHTTPChecker("localhost", 8080, "/health").
		WithExpectedStatus(200).
		WithTimeout(5 * time.Second)
	result := health.NewProber(spec.HealthCheck).Probe(ctx, checker)
*/
package health
