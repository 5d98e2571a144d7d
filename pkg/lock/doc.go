/*
Package lock serializes mutating fleet operations across process
invocations.

One exclusive lock guards the whole fleet: concurrent rebuild, start, stop,
restart and cleanup invocations on the same host must not interleave. The
lock is a file holding a JSON record of the holder (pid, cmdline, operation,
acquisition time), guarded by a non-blocking flock so acquisition races are
settled by the kernel.

A crashed holder releases its flock automatically, so normal recovery is
immediate. The record's staleness threshold covers the remaining corner: a
holder that is somehow still pinning the file long past any plausible
operation duration is presumed dead, the lock is reclaimed, and a warning is
surfaced to the operator. This deliberately trades strict mutual exclusion
for liveness after crashes.

Read-only operations never take the lock; they may call Holder to warn when
a mutation is in flight.
*/
package lock
