package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := Open()
	require.NoError(t, err)
	defer client.Close()

	msg := []byte("hello cof")
	err = client.Send(server.LocalAddr().String(), msg)
	require.NoError(t, err)

	got, from, err := server.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
	assert.NotNil(t, from)
}

func TestReceiveTimesOutWithNoSender(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	_, _, err = server.Receive(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
}

func TestRequestRetriesAndReportsTimeoutExceeded(t *testing.T) {
	client, err := Open()
	require.NoError(t, err)
	defer client.Close()

	// Reserve a UDP port, then close it immediately so nothing answers —
	// guarantees the endpoint is genuinely unreachable rather than merely
	// unlikely to respond.
	probe, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	deadEndpoint := probe.LocalAddr().String()
	require.NoError(t, probe.Close())

	start := time.Now()
	_, err = client.Request(deadEndpoint, []byte("ping"), 100*time.Millisecond, 2)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeoutExceeded)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}

func TestRequestSucceedsWhenServerAnswers(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := Open()
	require.NoError(t, err)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, from, err := server.Receive(time.Second)
		if err != nil {
			return
		}
		reply := append([]byte("echo:"), req...)
		server.Send(from.String(), reply)
	}()

	resp, err := client.Request(server.LocalAddr().String(), []byte("ping"), time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))
	<-done
}
