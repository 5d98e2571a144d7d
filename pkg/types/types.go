package types

import (
	"time"
)

// ServiceSpec is the declarative definition of one containerized service.
// Specs are loaded from the fleet configuration file and are read-only to
// the rest of the system.
type ServiceSpec struct {
	Name         string
	BuildContext string   // Directory containing the image build definition
	Identity     string   // Content identity of the build definition (set by config loader)
	DependsOn    []string // Names of services that must be running first
	Ports        []*PortBinding
	Volumes      []*VolumeBinding
	Env          []string
	HealthCheck  *HealthCheck
	AliasTags    []string // Extra image tags applied after a successful build

	// StartupGrace is the wait between starting an instance and the first
	// health probe, for services that need a moment to bind their ports.
	StartupGrace time.Duration

	// UpdateCheckCommand is run inside a one-shot container of the service
	// image by check-for-updates. Non-empty output means updates are pending.
	UpdateCheckCommand []string

	// BuildOnly marks a spec that produces an image (e.g. a shared base
	// image) but never runs an instance.
	BuildOnly bool
}

// ImageName returns the tag the service's image is built under.
func (s *ServiceSpec) ImageName() string {
	return s.Name + ":latest"
}

// PortBinding forwards a host port into the container.
type PortBinding struct {
	HostAddr      string // Empty means all interfaces
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp", default tcp
}

// VolumeBinding mounts a host path into the container.
type VolumeBinding struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// CheckKind is the protocol of a health check.
type CheckKind string

const (
	CheckKindTCP  CheckKind = "tcp"
	CheckKindHTTP CheckKind = "http"
)

// HealthCheck describes how to verify that an instance is actually serving
// traffic, as opposed to merely existing as a process.
type HealthCheck struct {
	Kind CheckKind
	Port int    // Host port to probe
	Host string // Defaults to localhost

	// HTTP only.
	Path           string
	ExpectedStatus int // 0 means any 2xx

	Timeout  time.Duration // Per-attempt timeout
	Interval time.Duration // Wait between attempts
	Deadline time.Duration // Overall probing deadline
}

// InstanceState is the lifecycle state of a service instance.
type InstanceState string

const (
	StateNotBuilt  InstanceState = "not-built"
	StateBuilding  InstanceState = "building"
	StateBuilt     InstanceState = "built"
	StateStarting  InstanceState = "starting"
	StateRunning   InstanceState = "running"
	StateProbing   InstanceState = "probing"
	StateHealthy   InstanceState = "healthy"
	StateUnhealthy InstanceState = "unhealthy"
	StateStopping  InstanceState = "stopping"
	StateStopped   InstanceState = "stopped"
	StateFailed    InstanceState = "failed"
)

// Instance is one realization of a ServiceSpec known to the container
// runtime. The runtime is the source of truth; records held elsewhere are
// advisory and must be reconciled against runtime queries before acting.
type Instance struct {
	Name      string // Unique runtime name
	Service   string // Owning ServiceSpec name
	Image     string // Image tag the instance was created from
	ImageID   string // Image content ID, for cleanup reference counting
	Identity  string // Content identity the image was built from
	State     InstanceState
	CreatedAt time.Time
	ExitedAt  time.Time
}

// Outcome is the per-service result of an operation.
type Outcome string

const (
	// OutcomeHealthy: the service's current instance passed its probes.
	OutcomeHealthy Outcome = "healthy"

	// OutcomeUnchanged: content identity matched and the existing instance
	// is healthy, so nothing was done.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeFailed: build, start or probing failed and no previous
	// instance could be restored.
	OutcomeFailed Outcome = "failed"

	// OutcomeRolledBack: the replacement failed its probes and the previous
	// instance was restored.
	OutcomeRolledBack Outcome = "rolled-back"

	// OutcomeSkipped: a dependency failed, so this service was never
	// touched in this pass.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeInProgress: a concurrent operation was observed mid-transition;
	// the service is neither healthy nor failed yet.
	OutcomeInProgress Outcome = "in-progress"

	// OutcomeStopped: the service was deliberately stopped.
	OutcomeStopped Outcome = "stopped"
)

// ServiceResult is the outcome of one service within an operation.
type ServiceResult struct {
	Service  string
	Outcome  Outcome
	State    InstanceState
	Instance string // Runtime name of the instance acted on, if any
	Err      error
}

// Failed reports whether the result should drive a nonzero exit code.
func (r *ServiceResult) Failed() bool {
	switch r.Outcome {
	case OutcomeFailed, OutcomeRolledBack, OutcomeSkipped:
		return true
	}
	return false
}

// Report aggregates the results of one operation over the fleet.
type Report struct {
	Operation string
	StartedAt time.Time
	Results   []*ServiceResult
}

// Result returns the result for the named service, or nil.
func (r *Report) Result(service string) *ServiceResult {
	for _, res := range r.Results {
		if res.Service == service {
			return res
		}
	}
	return nil
}

// OK reports whether every service ended in a non-failing outcome.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return false
		}
	}
	return true
}
