package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharf/pkg/types"
)

// writeFleet lays out a config file plus build context directories in a
// temp dir and returns the config path.
func writeFleet(t *testing.T, yaml string, contexts ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, ctx := range contexts {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ctx), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ctx, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
	}
	path := filepath.Join(dir, "wharf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

const basicFleet = `
services:
  - name: db
    build: ./db
    health_check:
      kind: tcp
      port: 5432
  - name: web
    build: ./web
    depends_on: [db]
    ports:
      - host: 8080
        container: 80
    env:
      - MODE=production
    health_check:
      kind: http
      port: 8080
      path: /health
      expected_status: 200
      timeout: 5s
      deadline: 1m
    startup_grace: 10s
`

func TestLoadBasicFleet(t *testing.T) {
	path := writeFleet(t, basicFleet, "db", "web")
	fleet, err := Load(path)
	require.NoError(t, err)
	require.Len(t, fleet.Services, 2)

	db := fleet.Services[0]
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, types.CheckKindTCP, db.HealthCheck.Kind)
	assert.Equal(t, DefaultStartupGrace, db.StartupGrace)
	assert.NotEmpty(t, db.Identity)

	web := fleet.Services[1]
	assert.Equal(t, []string{"db"}, web.DependsOn)
	assert.True(t, filepath.IsAbs(web.BuildContext))
	require.Len(t, web.Ports, 1)
	assert.Equal(t, 8080, web.Ports[0].HostPort)
	assert.Equal(t, "tcp", web.Ports[0].Protocol)
	assert.Equal(t, types.CheckKindHTTP, web.HealthCheck.Kind)
	assert.Equal(t, "/health", web.HealthCheck.Path)
	assert.Equal(t, 5*time.Second, web.HealthCheck.Timeout)
	assert.Equal(t, time.Minute, web.HealthCheck.Deadline)
	assert.Equal(t, 10*time.Second, web.StartupGrace)
	assert.NotEqual(t, db.Identity, web.Identity)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contexts []string
		wantErr  string
	}{
		{
			name:    "no services",
			yaml:    "services: []\n",
			wantErr: "no services",
		},
		{
			name: "missing build context dir",
			yaml: `
services:
  - name: web
    build: ./nope
`,
			wantErr: "not a directory",
		},
		{
			name: "unknown dependency",
			yaml: `
services:
  - name: web
    build: ./web
    depends_on: [ghost]
`,
			contexts: []string{"web"},
			wantErr:  "unknown service",
		},
		{
			name: "self dependency",
			yaml: `
services:
  - name: web
    build: ./web
    depends_on: [web]
`,
			contexts: []string{"web"},
			wantErr:  "depends on itself",
		},
		{
			name: "duplicate name",
			yaml: `
services:
  - name: web
    build: ./web
  - name: web
    build: ./web
`,
			contexts: []string{"web"},
			wantErr:  "duplicate",
		},
		{
			name: "bad port",
			yaml: `
services:
  - name: web
    build: ./web
    ports:
      - host: 70000
        container: 80
`,
			contexts: []string{"web"},
			wantErr:  "invalid port",
		},
		{
			name: "bad check kind",
			yaml: `
services:
  - name: web
    build: ./web
    health_check:
      kind: icmp
      port: 80
`,
			contexts: []string{"web"},
			wantErr:  "health check kind",
		},
		{
			name: "build-only with ports",
			yaml: `
services:
  - name: base
    build: ./base
    build_only: true
    ports:
      - host: 80
        container: 80
`,
			contexts: []string{"base"},
			wantErr:  "build-only",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFleet(t, tt.yaml, tt.contexts...)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSelect(t *testing.T) {
	path := writeFleet(t, basicFleet, "db", "web")
	fleet, err := Load(path)
	require.NoError(t, err)

	all, err := fleet.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Declaration order is preserved regardless of argument order.
	got, err := fleet.Select([]string{"web", "db"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "db", got[0].Name)
	assert.Equal(t, "web", got[1].Name)

	_, err = fleet.Select([]string{"ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestFingerprintStability(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", "app.ini"), []byte("x=1\n"), 0o644))

	spec := &types.ServiceSpec{Name: "web", BuildContext: dir, Env: []string{"A=1"}}

	first, err := Fingerprint(spec)
	require.NoError(t, err)
	second, err := Fingerprint(spec)
	require.NoError(t, err)
	assert.Equal(t, first, second, "fingerprint must be deterministic")
	assert.Len(t, first, 32)
}

func TestFingerprintTracksContentAndSpec(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Dockerfile")
	require.NoError(t, os.WriteFile(file, []byte("FROM alpine\n"), 0o644))

	spec := &types.ServiceSpec{Name: "web", BuildContext: dir}
	base, err := Fingerprint(spec)
	require.NoError(t, err)

	// File content change.
	require.NoError(t, os.WriteFile(file, []byte("FROM debian\n"), 0o644))
	changed, err := Fingerprint(spec)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)

	// Spec change with identical context.
	require.NoError(t, os.WriteFile(file, []byte("FROM alpine\n"), 0o644))
	spec.Env = []string{"DEBUG=1"}
	changed, err = Fingerprint(spec)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)

	// New file in the context.
	spec.Env = nil
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("hi"), 0o644))
	changed, err = Fingerprint(spec)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestFingerprintTracksFileMode(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(file, []byte("#!/bin/sh\n"), 0o644))

	spec := &types.ServiceSpec{Name: "web", BuildContext: dir}
	base, err := Fingerprint(spec)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(file, 0o755))
	changed, err := Fingerprint(spec)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed, "executable bit affects the built image")
}
