/*
Package store persists the small amount of state wharf needs between
invocations, backed by BoltDB.

Only two things are durable by design: which runtime instance is the
current (and, mid-transition, the previous rollback candidate) for each
service, and which content identities are still referenced and therefore
ineligible for cleanup. Everything else -- instance liveness, health,
image presence -- is reconstructed from container runtime queries at the
start of each operation and never trusted from a prior run.

Records are JSON values in a single bucket keyed by service name, the same
shape the rest of the tree uses for serialization.
*/
package store
