package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wharfd/wharf/pkg/types"
)

// Fleet is the parsed and validated fleet configuration.
type Fleet struct {
	Services []*types.ServiceSpec
}

// Names returns all service names in declaration order.
func (f *Fleet) Names() []string {
	names := make([]string, len(f.Services))
	for i, spec := range f.Services {
		names[i] = spec.Name
	}
	return names
}

// Select resolves the given names against the fleet, preserving declaration
// order. An empty argument selects the whole fleet; an unknown name is an
// error.
func (f *Fleet) Select(names []string) ([]*types.ServiceSpec, error) {
	if len(names) == 0 {
		return f.Services, nil
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	var out []*types.ServiceSpec
	for _, spec := range f.Services {
		if want[spec.Name] {
			out = append(out, spec)
			delete(want, spec.Name)
		}
	}
	for name := range want {
		return nil, fmt.Errorf("unknown service %q", name)
	}
	return out, nil
}

// fleetFile is the YAML schema of the fleet configuration file.
type fleetFile struct {
	Services []serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	Name               string        `yaml:"name"`
	Build              string        `yaml:"build"`
	DependsOn          []string      `yaml:"depends_on"`
	Ports              []portEntry   `yaml:"ports"`
	Volumes            []volumeEntry `yaml:"volumes"`
	Env                []string      `yaml:"env"`
	HealthCheck        *healthEntry  `yaml:"health_check"`
	AliasTags          []string      `yaml:"alias_tags"`
	StartupGrace       string        `yaml:"startup_grace"`
	UpdateCheckCommand []string      `yaml:"update_check_command"`
	BuildOnly          bool          `yaml:"build_only"`
}

type portEntry struct {
	Host      int    `yaml:"host"`
	Container int    `yaml:"container"`
	Address   string `yaml:"address"`
	Protocol  string `yaml:"protocol"`
}

type volumeEntry struct {
	Host      string `yaml:"host"`
	Container string `yaml:"container"`
	ReadOnly  bool   `yaml:"readonly"`
}

type healthEntry struct {
	Kind           string `yaml:"kind"`
	Port           int    `yaml:"port"`
	Host           string `yaml:"host"`
	Path           string `yaml:"path"`
	ExpectedStatus int    `yaml:"expected_status"`
	Timeout        string `yaml:"timeout"`
	Interval       string `yaml:"interval"`
	Deadline       string `yaml:"deadline"`
}

// DefaultStartupGrace is the wait before the first probe when a spec does
// not set its own.
const DefaultStartupGrace = 2 * time.Second

// Load reads, validates and fingerprints the fleet configuration. Relative
// build context and volume paths resolve against the config file's
// directory.
func Load(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fleet config: %w", err)
	}

	var file fleetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing fleet config: %w", err)
	}
	if len(file.Services) == 0 {
		return nil, fmt.Errorf("fleet config %s declares no services", path)
	}

	baseDir := filepath.Dir(path)
	fleet := &Fleet{}
	seen := make(map[string]bool)
	for i := range file.Services {
		spec, err := file.Services[i].toSpec(baseDir)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", file.Services[i].Name, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate service name %q", spec.Name)
		}
		seen[spec.Name] = true
		fleet.Services = append(fleet.Services, spec)
	}

	// Dependency names must refer to declared services. Cycle detection is
	// the dependency graph's job; this only catches typos early.
	for _, spec := range fleet.Services {
		for _, dep := range spec.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("service %q depends on unknown service %q", spec.Name, dep)
			}
			if dep == spec.Name {
				return nil, fmt.Errorf("service %q depends on itself", spec.Name)
			}
		}
	}

	for _, spec := range fleet.Services {
		identity, err := Fingerprint(spec)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting service %q: %w", spec.Name, err)
		}
		spec.Identity = identity
	}
	return fleet, nil
}

func (e *serviceEntry) toSpec(baseDir string) (*types.ServiceSpec, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if e.Build == "" {
		return nil, fmt.Errorf("missing build context")
	}
	buildContext := e.Build
	if !filepath.IsAbs(buildContext) {
		buildContext = filepath.Join(baseDir, buildContext)
	}
	if info, err := os.Stat(buildContext); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("build context %s is not a directory", buildContext)
	}

	spec := &types.ServiceSpec{
		Name:               e.Name,
		BuildContext:       buildContext,
		DependsOn:          e.DependsOn,
		Env:                e.Env,
		AliasTags:          e.AliasTags,
		UpdateCheckCommand: e.UpdateCheckCommand,
		BuildOnly:          e.BuildOnly,
		StartupGrace:       DefaultStartupGrace,
	}

	if e.StartupGrace != "" {
		grace, err := time.ParseDuration(e.StartupGrace)
		if err != nil {
			return nil, fmt.Errorf("invalid startup_grace: %w", err)
		}
		spec.StartupGrace = grace
	}

	for _, p := range e.Ports {
		if p.Host <= 0 || p.Host > 65535 || p.Container <= 0 || p.Container > 65535 {
			return nil, fmt.Errorf("invalid port binding %d:%d", p.Host, p.Container)
		}
		protocol := p.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		if protocol != "tcp" && protocol != "udp" {
			return nil, fmt.Errorf("invalid port protocol %q", protocol)
		}
		spec.Ports = append(spec.Ports, &types.PortBinding{
			HostAddr:      p.Address,
			HostPort:      p.Host,
			ContainerPort: p.Container,
			Protocol:      protocol,
		})
	}

	for _, v := range e.Volumes {
		hostPath := v.Host
		if !filepath.IsAbs(hostPath) {
			hostPath = filepath.Join(baseDir, hostPath)
		}
		if _, err := os.Stat(hostPath); err != nil {
			return nil, fmt.Errorf("volume path %s does not exist", hostPath)
		}
		if v.Container == "" {
			return nil, fmt.Errorf("volume %s has no container path", v.Host)
		}
		spec.Volumes = append(spec.Volumes, &types.VolumeBinding{
			HostPath:      hostPath,
			ContainerPath: v.Container,
			ReadOnly:      v.ReadOnly,
		})
	}

	if e.HealthCheck != nil {
		hc, err := e.HealthCheck.toHealthCheck()
		if err != nil {
			return nil, err
		}
		spec.HealthCheck = hc
	}

	if e.BuildOnly && (len(spec.Ports) > 0 || spec.HealthCheck != nil) {
		return nil, fmt.Errorf("build-only service cannot declare ports or a health check")
	}
	return spec, nil
}

func (e *healthEntry) toHealthCheck() (*types.HealthCheck, error) {
	hc := &types.HealthCheck{
		Port:           e.Port,
		Host:           e.Host,
		Path:           e.Path,
		ExpectedStatus: e.ExpectedStatus,
	}
	switch e.Kind {
	case "tcp":
		hc.Kind = types.CheckKindTCP
	case "http":
		hc.Kind = types.CheckKindHTTP
	default:
		return nil, fmt.Errorf("invalid health check kind %q", e.Kind)
	}
	if hc.Port <= 0 || hc.Port > 65535 {
		return nil, fmt.Errorf("invalid health check port %d", hc.Port)
	}
	var err error
	if hc.Timeout, err = optionalDuration(e.Timeout); err != nil {
		return nil, fmt.Errorf("invalid health check timeout: %w", err)
	}
	if hc.Interval, err = optionalDuration(e.Interval); err != nil {
		return nil, fmt.Errorf("invalid health check interval: %w", err)
	}
	if hc.Deadline, err = optionalDuration(e.Deadline); err != nil {
		return nil, fmt.Errorf("invalid health check deadline: %w", err)
	}
	return hc, nil
}

func optionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
