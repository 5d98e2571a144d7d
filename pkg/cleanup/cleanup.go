package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wharfd/wharf/pkg/config"
	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/store"
	"github.com/wharfd/wharf/pkg/types"
)

// DefaultMinAge is how old a stopped instance or unreferenced image must be
// before it is eligible for removal.
const DefaultMinAge = 31 * 24 * time.Hour

// Manager garbage-collects stopped instances and images that no current
// spec references and that are not held as rollback candidates. It only
// runs under the fleet lock, outside any rebuild, so nothing it examines
// can be mid-transition.
type Manager struct {
	rt    runtime.Runtime
	store store.Store
	fleet *config.Fleet

	// MinAge protects recently stopped instances and recently built
	// images from removal.
	MinAge time.Duration

	// DryRun reports what would be removed without acting.
	DryRun bool

	logger zerolog.Logger
}

// NewManager creates a cleanup manager with the default minimum age.
func NewManager(fleet *config.Fleet, rt runtime.Runtime, st store.Store) *Manager {
	return &Manager{
		rt:     rt,
		store:  st,
		fleet:  fleet,
		MinAge: DefaultMinAge,
		logger: log.WithComponent("cleanup"),
	}
}

// Result lists what a cleanup pass removed (or, in dry-run mode, would
// remove).
type Result struct {
	Instances []string
	Images    []string
}

// Run performs one cleanup pass: stopped instances first, then images,
// so instance removal can unreference images within the same pass.
//
// Never removed: running instances, the last known (current or rollback
// candidate) instance of any service, anything younger than MinAge, and
// images whose content identity is still referenced by a spec or record.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	known, err := m.store.KnownInstances()
	if err != nil {
		return nil, err
	}
	instances, err := m.rt.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	removedInstances := make(map[string]bool)
	cutoff := time.Now().Add(-m.MinAge)
	for _, inst := range instances {
		if inst.State == types.StateRunning {
			continue
		}
		if known[inst.Name] {
			// The last known instance is never removed, even when it
			// stopped ages ago: it may still be the rollback target.
			m.logger.Info().Str("instance", inst.Name).Msg("keeping last known instance of its service")
			continue
		}
		if inst.ExitedAt.After(cutoff) {
			m.logger.Debug().Str("instance", inst.Name).Msg("stopped instance is too young to remove")
			continue
		}
		if m.DryRun {
			m.logger.Info().Str("instance", inst.Name).Msg("would remove old stopped instance")
		} else {
			m.logger.Info().Str("instance", inst.Name).Msg("removing old stopped instance")
			if err := m.rt.Remove(ctx, inst.Name); err != nil {
				m.logger.Warn().Err(err).Str("instance", inst.Name).Msg("failed to remove instance")
				continue
			}
		}
		removedInstances[inst.Name] = true
		result.Instances = append(result.Instances, inst.Name)
	}

	// Image IDs still pinned by a surviving instance. In dry-run mode the
	// simulated removals count as gone so image results match what a real
	// pass would do.
	pinned := make(map[string]bool)
	for _, inst := range instances {
		if !removedInstances[inst.Name] {
			pinned[inst.ImageID] = true
		}
	}

	referenced, err := m.store.ReferencedIdentities(m.fleet.Services)
	if err != nil {
		return nil, err
	}
	images, err := m.rt.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		// A referenced identity may still be needed for a rollback; keep
		// it no matter how the image is tagged.
		if img.Identity != "" && referenced[img.Identity] {
			continue
		}
		// Eligible: untagged leftovers from superseded builds, and
		// managed images whose content identity no spec or record
		// references anymore (e.g. a service removed from the fleet
		// file).
		if !img.Dangling && img.Identity == "" {
			continue
		}
		if pinned[img.ID] {
			continue
		}
		if img.CreatedAt.After(cutoff) {
			continue
		}
		if m.DryRun {
			m.logger.Info().Str("image", img.ID).Msg("would delete unused old image")
		} else {
			m.logger.Info().Str("image", img.ID).Msg("deleting unused old image")
			if err := m.rt.RemoveImage(ctx, img.ID); err != nil {
				m.logger.Warn().Err(err).Str("image", img.ID).Msg("failed to remove image")
				continue
			}
		}
		result.Images = append(result.Images, img.ID)
	}
	return result, nil
}
