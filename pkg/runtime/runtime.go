package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wharfd/wharf/pkg/types"
)

// ErrNotBuilt is returned by ImageIdentity when no image exists for a spec.
var ErrNotBuilt = errors.New("image not built")

// BuildError wraps a failure of the image build phase.
type BuildError struct {
	Service string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for service %q: %v", e.Service, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// StartError wraps a failure to start an instance.
type StartError struct {
	Service  string
	Instance string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed for service %q (instance %s): %v", e.Service, e.Instance, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// BuildOptions control an image build.
type BuildOptions struct {
	// NoCache forces a full rebuild, ignoring the layer cache.
	NoCache bool
}

// Image describes one managed image known to the runtime.
type Image struct {
	ID        string
	Tags      []string
	Identity  string // Content identity label, empty for untagged leftovers
	CreatedAt time.Time
	Dangling  bool
}

// Runtime abstracts the container runtime's control surface. All operations
// are synchronous from the orchestrator's viewpoint; each honors the ctx
// deadline as its process-level timeout.
//
// Implementations must echo every command they issue, verbatim, to the
// operator-visible output before executing it, so an operator can always
// reproduce or interrupt any action by hand.
type Runtime interface {
	// Build builds the spec's image and returns the image ID.
	Build(ctx context.Context, spec *types.ServiceSpec, opts BuildOptions) (string, error)

	// Start creates and starts a new instance of the spec under the given
	// unique name. links maps dependency service names to their running
	// instance names.
	Start(ctx context.Context, spec *types.ServiceSpec, name string, links map[string]string) error

	// StartExisting restarts a previously created, currently stopped
	// instance. Used to restore a rollback candidate.
	StartExisting(ctx context.Context, name string) error

	// Stop gracefully stops a running instance, escalating after timeout.
	Stop(ctx context.Context, name string, timeout time.Duration) error

	// Remove deletes a stopped instance.
	Remove(ctx context.Context, name string) error

	// ListInstances returns all managed instances with their derived state.
	ListInstances(ctx context.Context) ([]*types.Instance, error)

	// InspectInstance returns one instance by runtime name, or nil if it
	// does not exist.
	InspectInstance(ctx context.Context, name string) (*types.Instance, error)

	// ImageIdentity returns the content identity the spec's image was
	// built from, or ErrNotBuilt.
	ImageIdentity(ctx context.Context, spec *types.ServiceSpec) (string, error)

	// ListImages returns all managed and dangling images, for cleanup.
	ListImages(ctx context.Context) ([]*Image, error)

	// RemoveImage deletes an image by ID.
	RemoveImage(ctx context.Context, id string) error

	// RunOneShot runs cmd in a temporary container of the given image and
	// returns its combined output. The container is removed afterwards.
	RunOneShot(ctx context.Context, image string, cmd []string) (string, error)
}
