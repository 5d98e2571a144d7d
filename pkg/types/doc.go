/*
Package types defines the core data structures used throughout wharf.

This package contains the fundamental types of wharf's domain model: service
specifications loaded from the fleet configuration, runtime instances and
their lifecycle states, health check descriptors, and the per-service
outcomes aggregated into operation reports.

The main types are:

  - ServiceSpec: declarative definition of one containerized service
    (build context, ports, volumes, dependencies, health check). Immutable
    once loaded; owned by configuration.
  - Instance: one built or running realization of a ServiceSpec. The
    container runtime is the source of truth for instances; records kept
    elsewhere are advisory.
  - InstanceState: lifecycle state machine states (not-built through
    healthy/failed/stopped).
  - ServiceResult / Report: outcome of an operation per service and for
    the fleet as a whole, driving the command exit code.

All types are plain data with no behavior beyond small helpers, so every
other package can depend on them without import cycles.
*/
package types
