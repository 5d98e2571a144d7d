package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/types"
)

const (
	// LabelManaged marks containers and images under wharf's control.
	LabelManaged = "io.wharf.managed"

	// LabelService names the owning service spec.
	LabelService = "io.wharf.service"

	// LabelIdentity carries the content identity an image was built from.
	LabelIdentity = "io.wharf.identity"

	// DefaultCommandTimeout bounds a single docker invocation when the
	// caller's context carries no deadline.
	DefaultCommandTimeout = 10 * time.Minute
)

// DockerRuntime drives the docker CLI. Shelling out rather than using a
// client library keeps every action reproducible by hand: the exact command
// is echoed to the operator before it runs.
type DockerRuntime struct {
	// Echo receives every command line issued, verbatim. Defaults to
	// stdout.
	Echo io.Writer

	// Binary is the docker binary to invoke. Defaults to "docker".
	Binary string

	logger zerolog.Logger

	// run is swappable for tests.
	run func(ctx context.Context, stdout io.Writer, args ...string) error
}

// NewDockerRuntime creates a runtime adapter echoing commands to stdout.
func NewDockerRuntime() *DockerRuntime {
	r := &DockerRuntime{
		Echo:   os.Stdout,
		Binary: "docker",
		logger: log.WithComponent("runtime"),
	}
	r.run = r.execCommand
	return r
}

// command echoes and runs one docker invocation, capturing stdout.
func (r *DockerRuntime) command(ctx context.Context, args ...string) (string, error) {
	fmt.Fprintf(r.Echo, "$ %s %s\n", r.Binary, strings.Join(args, " "))
	r.logger.Debug().Str("cmd", r.Binary+" "+strings.Join(args, " ")).Msg("exec")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCommandTimeout)
		defer cancel()
	}

	var out strings.Builder
	err := r.run(ctx, &out, args...)
	return out.String(), err
}

func (r *DockerRuntime) execCommand(ctx context.Context, stdout io.Writer, args ...string) error {
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", r.Binary, strings.Join(args, " "), err)
	}
	return nil
}

// Build builds the spec's image, tags it, and labels it with the content
// identity so a later run can detect whether a rebuild is needed.
func (r *DockerRuntime) Build(ctx context.Context, spec *types.ServiceSpec, opts BuildOptions) (string, error) {
	args := []string{"build"}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	args = append(args,
		"--label", LabelManaged+"=true",
		"--label", LabelService+"="+spec.Name,
		"--label", LabelIdentity+"="+spec.Identity,
		"-t", spec.ImageName(),
		spec.BuildContext,
	)
	if _, err := r.command(ctx, args...); err != nil {
		return "", &BuildError{Service: spec.Name, Err: err}
	}
	for _, tag := range spec.AliasTags {
		if _, err := r.command(ctx, "tag", spec.ImageName(), tag); err != nil {
			return "", &BuildError{Service: spec.Name, Err: err}
		}
	}
	out, err := r.command(ctx, "image", "inspect", "--format", "{{.Id}}", spec.ImageName())
	if err != nil {
		return "", &BuildError{Service: spec.Name, Err: err}
	}
	return strings.TrimSpace(out), nil
}

// Start creates and starts a new container for the spec.
func (r *DockerRuntime) Start(ctx context.Context, spec *types.ServiceSpec, name string, links map[string]string) error {
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", LabelManaged + "=true",
		"--label", LabelService + "=" + spec.Name,
		"--label", LabelIdentity + "=" + spec.Identity,
	}
	for _, p := range spec.Ports {
		binding := fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
		if p.HostAddr != "" {
			binding = p.HostAddr + ":" + binding
		}
		if p.Protocol == "udp" {
			binding += "/udp"
		}
		args = append(args, "-p", binding)
	}
	for _, v := range spec.Volumes {
		binding := v.HostPath + ":" + v.ContainerPath
		if v.ReadOnly {
			binding += ":ro"
		}
		args = append(args, "-v", binding)
	}
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	// Link aliases use the service name from the config so dependents can
	// reach a dependency under its declared name regardless of the unique
	// per-start instance name.
	for alias, instance := range links {
		args = append(args, "--link", instance+":"+alias)
	}
	args = append(args, spec.ImageName())

	if _, err := r.command(ctx, args...); err != nil {
		return &StartError{Service: spec.Name, Instance: name, Err: err}
	}
	return nil
}

// StartExisting restarts a stopped container by name.
func (r *DockerRuntime) StartExisting(ctx context.Context, name string) error {
	_, err := r.command(ctx, "start", name)
	return err
}

// Stop stops a running container, giving it timeout to exit before the
// runtime escalates to SIGKILL.
func (r *DockerRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err := r.command(ctx, "stop", "-t", strconv.Itoa(seconds), name)
	return err
}

// Remove deletes a stopped container.
func (r *DockerRuntime) Remove(ctx context.Context, name string) error {
	_, err := r.command(ctx, "rm", name)
	return err
}

// dockerInspect is the subset of `docker inspect` output we consume.
type dockerInspect struct {
	Name    string    `json:"Name"`
	Image   string    `json:"Image"` // Image ID, not the tag
	Created time.Time `json:"Created"`
	State   struct {
		Running    bool      `json:"Running"`
		ExitCode   int       `json:"ExitCode"`
		FinishedAt time.Time `json:"FinishedAt"`
	} `json:"State"`
	Config struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

func (d *dockerInspect) toInstance() *types.Instance {
	state := types.StateRunning
	if !d.State.Running {
		state = types.StateStopped
		if d.State.ExitCode != 0 {
			state = types.StateFailed
		}
	}
	return &types.Instance{
		Name:      strings.TrimPrefix(d.Name, "/"),
		Service:   d.Config.Labels[LabelService],
		Image:     d.Config.Image,
		ImageID:   d.Image,
		Identity:  d.Config.Labels[LabelIdentity],
		State:     state,
		CreatedAt: d.Created,
		ExitedAt:  d.State.FinishedAt,
	}
}

// ListInstances returns every wharf-managed container, running or not.
func (r *DockerRuntime) ListInstances(ctx context.Context) ([]*types.Instance, error) {
	out, err := r.command(ctx, "ps", "-aq", "--no-trunc", "--filter", "label="+LabelManaged+"=true")
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	ids := strings.Fields(out)
	if len(ids) == 0 {
		return nil, nil
	}
	inspected, err := r.inspect(ctx, ids)
	if err != nil {
		return nil, err
	}
	instances := make([]*types.Instance, 0, len(inspected))
	for i := range inspected {
		instances = append(instances, inspected[i].toInstance())
	}
	return instances, nil
}

// InspectInstance returns one container by name, or nil when it is gone.
func (r *DockerRuntime) InspectInstance(ctx context.Context, name string) (*types.Instance, error) {
	inspected, err := r.inspect(ctx, []string{name})
	if err != nil {
		// docker inspect fails for unknown names; treat that as absence
		// since absence is an expected answer during reconciliation.
		return nil, nil
	}
	if len(inspected) == 0 {
		return nil, nil
	}
	return inspected[0].toInstance(), nil
}

func (r *DockerRuntime) inspect(ctx context.Context, names []string) ([]dockerInspect, error) {
	args := append([]string{"inspect"}, names...)
	out, err := r.command(ctx, args...)
	if err != nil {
		return nil, err
	}
	var inspected []dockerInspect
	if err := json.Unmarshal([]byte(out), &inspected); err != nil {
		return nil, fmt.Errorf("parsing docker inspect output: %w", err)
	}
	return inspected, nil
}

// ImageIdentity reads the identity label from the spec's current image.
func (r *DockerRuntime) ImageIdentity(ctx context.Context, spec *types.ServiceSpec) (string, error) {
	out, err := r.command(ctx, "image", "inspect",
		"--format", fmt.Sprintf("{{index .Config.Labels %q}}", LabelIdentity),
		spec.ImageName())
	if err != nil {
		return "", ErrNotBuilt
	}
	identity := strings.TrimSpace(out)
	if identity == "" {
		return "", ErrNotBuilt
	}
	return identity, nil
}

// imageInspect is the subset of `docker image inspect` output we consume.
type imageInspect struct {
	ID       string    `json:"Id"`
	RepoTags []string  `json:"RepoTags"`
	Created  time.Time `json:"Created"`
	Config   struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

// ListImages returns managed images plus dangling leftovers from rebuilds.
func (r *DockerRuntime) ListImages(ctx context.Context) ([]*Image, error) {
	managed, err := r.command(ctx, "image", "ls", "-q", "--no-trunc", "--filter", "label="+LabelManaged+"=true")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	dangling, err := r.command(ctx, "image", "ls", "-q", "--no-trunc", "--filter", "dangling=true")
	if err != nil {
		return nil, fmt.Errorf("listing dangling images: %w", err)
	}
	danglingIDs := make(map[string]bool)
	for _, id := range strings.Fields(dangling) {
		danglingIDs[id] = true
	}

	ids := strings.Fields(managed)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for id := range danglingIDs {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := append([]string{"image", "inspect"}, ids...)
	out, err := r.command(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("inspecting images: %w", err)
	}
	var inspected []imageInspect
	if err := json.Unmarshal([]byte(out), &inspected); err != nil {
		return nil, fmt.Errorf("parsing docker image inspect output: %w", err)
	}

	images := make([]*Image, 0, len(inspected))
	for _, img := range inspected {
		tags := img.RepoTags
		if len(tags) == 1 && tags[0] == "<none>:<none>" {
			tags = nil
		}
		images = append(images, &Image{
			ID:        img.ID,
			Tags:      tags,
			Identity:  img.Config.Labels[LabelIdentity],
			CreatedAt: img.Created,
			Dangling:  danglingIDs[img.ID] || len(tags) == 0,
		})
	}
	return images, nil
}

// RemoveImage deletes an image without pruning shared parent layers.
func (r *DockerRuntime) RemoveImage(ctx context.Context, id string) error {
	_, err := r.command(ctx, "rmi", "--no-prune=true", id)
	return err
}

// RunOneShot runs cmd in a throwaway container of the image.
func (r *DockerRuntime) RunOneShot(ctx context.Context, image string, cmd []string) (string, error) {
	args := append([]string{"run", "--rm", image}, cmd...)
	return r.command(ctx, args...)
}
