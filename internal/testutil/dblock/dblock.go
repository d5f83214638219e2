// Package dblock serialises Postgres integration tests across packages.
// go test runs packages in parallel processes, and they share one database.
package dblock

import (
	"net"
	"os"
	"testing"
	"time"
)

const defaultAddr = "127.0.0.1:45433"

// Acquire blocks until this process holds the lock and releases it when tb
// finishes. SETTLE_TEST_LOCK_ADDR overrides the loopback port used as the lock.
func Acquire(tb testing.TB) {
	tb.Helper()
	addr := os.Getenv("SETTLE_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			tb.Cleanup(func() { _ = ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("database lock %s not acquired: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
