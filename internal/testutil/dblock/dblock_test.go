package dblock

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireHoldsUntilTestEnds(t *testing.T) {
	t.Setenv("SETTLE_TEST_LOCK_ADDR", "127.0.0.1:45499")

	t.Run("holder", func(t *testing.T) {
		Acquire(t)
		_, err := net.Listen("tcp", "127.0.0.1:45499")
		assert.Error(t, err)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:45499")
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}
