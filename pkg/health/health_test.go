package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharf/pkg/types"
)

// freePort reserves and releases a port so nothing listens on it. Racy in
// principle, fine for a local test run.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestTCPCheckerHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	res := NewTCPChecker("127.0.0.1", port).Check(context.Background())
	assert.Equal(t, Healthy, res.Verdict)
	assert.True(t, res.Healthy())
}

func TestTCPCheckerRefusedIsUnreachable(t *testing.T) {
	res := NewTCPChecker("127.0.0.1", freePort(t)).Check(context.Background())
	assert.Equal(t, Unreachable, res.Verdict)
	assert.Contains(t, res.Message, "failed")
}

func TestHTTPCheckerStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected int
		want     Verdict
	}{
		{"default accepts 200", 200, 0, Healthy},
		{"default accepts 204", 204, 0, Healthy},
		{"default rejects 500", 500, 0, Unhealthy},
		{"default rejects 404", 404, 0, Unhealthy},
		{"exact match", 418, 418, Healthy},
		{"exact mismatch", 200, 418, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			u, err := url.Parse(srv.URL)
			require.NoError(t, err)
			port, err := strconv.Atoi(u.Port())
			require.NoError(t, err)

			c := NewHTTPChecker(u.Hostname(), port, "/health")
			if tt.expected != 0 {
				c = c.WithExpectedStatus(tt.expected)
			}
			res := c.Check(context.Background())
			assert.Equal(t, tt.want, res.Verdict, res.Message)
		})
	}
}

func TestHTTPCheckerRefusedIsUnreachable(t *testing.T) {
	res := NewHTTPChecker("127.0.0.1", freePort(t), "/").Check(context.Background())
	assert.Equal(t, Unreachable, res.Verdict)
}

func TestForDescriptor(t *testing.T) {
	c := ForDescriptor(&types.HealthCheck{Kind: types.CheckKindTCP, Port: 5432})
	assert.Equal(t, types.CheckKindTCP, c.Kind())
	assert.Equal(t, "localhost:5432", c.(*TCPChecker).Address)

	c = ForDescriptor(&types.HealthCheck{
		Kind:           types.CheckKindHTTP,
		Host:           "10.0.0.1",
		Port:           8080,
		Path:           "/health",
		ExpectedStatus: 200,
		Timeout:        time.Second,
	})
	h := c.(*HTTPChecker)
	assert.Equal(t, "http://10.0.0.1:8080/health", h.URL)
	assert.Equal(t, 200, h.ExpectedStatus)
	assert.Equal(t, time.Second, h.Client.Timeout)
}

// flakyChecker fails a fixed number of attempts before turning healthy.
type flakyChecker struct {
	failures int32
}

func (f *flakyChecker) Check(ctx context.Context) Result {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return Result{Verdict: Unreachable, Message: "not up yet", CheckedAt: time.Now()}
	}
	return Result{Verdict: Healthy, CheckedAt: time.Now()}
}

func (f *flakyChecker) Kind() types.CheckKind { return types.CheckKindTCP }

func TestProberRetriesUntilHealthy(t *testing.T) {
	p := &Prober{Interval: 5 * time.Millisecond, Deadline: time.Second}
	res := p.Probe(context.Background(), &flakyChecker{failures: 3})
	assert.Equal(t, Healthy, res.Verdict)
}

func TestProberDeadlineYieldsUnhealthy(t *testing.T) {
	p := &Prober{Interval: 5 * time.Millisecond, Deadline: 30 * time.Millisecond}
	start := time.Now()
	res := p.Probe(context.Background(), &flakyChecker{failures: 1000})
	assert.Equal(t, Unhealthy, res.Verdict, "unreachable attempts collapse to unhealthy at the deadline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestProberHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Prober{Interval: time.Hour, Deadline: time.Hour}
	res := p.Probe(ctx, &flakyChecker{failures: 1000})
	assert.Equal(t, Unhealthy, res.Verdict)
}

func TestNewProberDefaults(t *testing.T) {
	p := NewProber(nil)
	assert.Equal(t, DefaultInterval, p.Interval)
	assert.Equal(t, DefaultDeadline, p.Deadline)

	p = NewProber(&types.HealthCheck{Interval: time.Second, Deadline: time.Minute})
	assert.Equal(t, time.Second, p.Interval)
	assert.Equal(t, time.Minute, p.Deadline)
}
