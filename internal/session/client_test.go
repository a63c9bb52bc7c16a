package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeTimesOutAgainstUnusedPort(t *testing.T) {
	// Find a UDP port nothing is listening on by briefly binding then
	// releasing it.
	probe, err := NewClient("127.0.0.1:0", "r", DefaultClientConfig())
	require.NoError(t, err)
	unusedAddr := probe.conn.LocalAddr().String()
	require.NoError(t, probe.Close())

	config := ClientConfig{
		PacketSize:    16 * 1024,
		Timeout:       250 * time.Millisecond,
		MaxRetries:    2,
		ClientVersion: "1.0",
	}
	client, err := NewClient(unusedAddr, "r", config)
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	ok := client.Handshake(context.Background())
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
}

func TestClientSessionIDsAreUnique(t *testing.T) {
	a, err := NewClient("127.0.0.1:0", "r", DefaultClientConfig())
	require.NoError(t, err)
	defer a.Close()

	b, err := NewClient("127.0.0.1:0", "r", DefaultClientConfig())
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.SessionID(), b.SessionID())
	assert.NotEmpty(t, a.SessionID())
}
