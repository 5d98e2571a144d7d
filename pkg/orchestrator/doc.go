/*
Package orchestrator drives the per-service lifecycle state machine that is
the heart of wharf.

A rebuild pass walks the fleet in dependency order. For each service it
compares the spec's content identity against the running instance; an
unchanged, healthy service is an idempotent no-op. Otherwise the image is
rebuilt, the prior instance is stopped but retained as the rollback
candidate, a replacement is started under a fresh unique name, and the
replacement is probed until healthy or deadline. Only a healthy replacement
discards the rollback candidate; a failed one is removed and the prior
instance restarted, reporting the service as rolled back.

Failure is isolated to the dependency subtree: dependents of a failed
service are reported Skipped and never touched, while unrelated services
proceed normally. Mutually independent services may run concurrently under
a bounded worker limit; shared bookkeeping is mutex-guarded.

Cancellation is honored at service boundaries. An in-flight build, start or
probe step runs to completion or its own timeout -- never abandoned midway,
so no service is ever left between states.

Status is the read-only counterpart: reconcile against the runtime, probe,
report, mutate nothing, take no lock. Start, Stop and Restart manage the
closure of a selection: stopping pulls in dependents (they would break),
starting pulls in dependencies (they are required).
*/
package orchestrator
