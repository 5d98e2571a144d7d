package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/wharfd/wharf/pkg/types"
)

// TCPChecker probes a TCP port by connecting to it.
type TCPChecker struct {
	// Address is the TCP address to connect to (e.g. "localhost:5432").
	Address string

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// NewTCPChecker creates a TCP health checker for host:port.
func NewTCPChecker(host string, port int) *TCPChecker {
	return &TCPChecker{
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
		Timeout: DefaultTimeout,
	}
}

// Check performs one TCP probe. A successful connect is Healthy. A refused
// or reset connection means nothing is listening yet: Unreachable. A
// timeout means something holds the port but does not accept: Unhealthy.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		verdict := Unhealthy
		if isRefused(err) {
			verdict = Unreachable
		}
		return Result{
			Verdict:   verdict,
			Message:   fmt.Sprintf("connection to %s failed: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Verdict:   Healthy,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Kind returns the probe protocol.
func (t *TCPChecker) Kind() types.CheckKind {
	return types.CheckKindTCP
}

// WithTimeout sets the connection timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

func isRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var syscallErr *os.SyscallError
	return errors.As(err, &syscallErr) &&
		(errors.Is(syscallErr.Err, syscall.ECONNREFUSED) || errors.Is(syscallErr.Err, syscall.ECONNRESET))
}
