package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeClient(t *testing.T, pd *pipeDialer, autoReconnect bool, handler RequestHandler) *Client {
	c, err := NewClient(ClientConfig{
		Target:        "pipe",
		AutoReconnect: autoReconnect,
		DialTimeout:   time.Second,
		Handler:       handler,
		Dialer:        pd,
	})
	require.NoError(t, err)
	return c
}

func waitDone(t *testing.T, c *Client) {
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client to stop")
	}
}

func Test_ClientState_String(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Connecting", StateConnecting.String())
	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "Disconnected", StateDisconnected.String())
	assert.Equal(t, "ClientState(9)", ClientState(9).String())
}

func Test_Client_NewClient_BadTarget(t *testing.T) {
	_, err := NewClient(ClientConfig{Target: "ftp://example.com/"})
	assert.Error(t, err)
}

func Test_Client_PingPong(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	pd := &pipeDialer{handler: newTestHandler()}
	c := newPipeClient(t, pd, true, nil)
	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.True(t, c.IsConnected())
	ping(t, c)

	assert.IsType(t, AlreadyConnectedError{}, errors.Cause(c.Connect(context.Background())))

	c.Disconnect()
	waitDone(t, c)
	assert.NoError(t, c.Err())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, pd.dialCount())

	_, err := c.Send(context.Background(), NewStreamingRequest("GET", "/ping"))
	assert.True(t, IsDisconnected(err))
}

func Test_Client_Send_NotConnected(t *testing.T) {
	c := newPipeClient(t, &pipeDialer{}, true, nil)
	_, err := c.Send(context.Background(), NewStreamingRequest("GET", "/ping"))
	assert.True(t, IsDisconnected(err))
}

func Test_Client_Connect_Fails(t *testing.T) {
	pd := &pipeDialer{fail: true}
	c := newPipeClient(t, pd, true, nil)
	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
	waitDone(t, c)
	assert.Equal(t, err, c.Err())
	assert.Equal(t, 1, c.Connects())
	when, lastErr := c.LastAttempt()
	assert.False(t, when.IsZero())
	assert.Error(t, lastErr)

	// a failed Connect may be retried
	pd.setFail(false)
	require.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Err())
	assert.Equal(t, 2, c.Connects())
	c.Disconnect()
	waitDone(t, c)
	select {
	case <-pd.server(0).Done():
	case <-time.After(waitTimeout):
		t.Fatal("server still running")
	}
}

func Test_Client_Reconnect(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	pd := &pipeDialer{handler: newTestHandler()}
	c := newPipeClient(t, pd, true, nil)
	require.NoError(t, c.Connect(context.Background()))
	ping(t, c)

	pd.server(0).Disconnect()
	require.Eventually(t, func() bool {
		return pd.dialCount() == 2 && c.IsConnected()
	}, waitTimeout, time.Millisecond)
	ping(t, c)

	// exactly one attempt per lost connection
	time.Sleep(time.Millisecond * 20)
	assert.Equal(t, 2, pd.dialCount())
	select {
	case <-c.Done():
		t.Fatal("client stopped after a successful reconnect")
	default:
	}

	c.Disconnect()
	waitDone(t, c)
	assert.Equal(t, 2, pd.dialCount())
}

func Test_Client_Reconnect_Disabled(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	pd := &pipeDialer{handler: newTestHandler()}
	c := newPipeClient(t, pd, false, nil)
	require.NoError(t, c.Connect(context.Background()))

	pd.server(0).Disconnect()
	waitDone(t, c)
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, isClosedError(c.Err()))
	assert.Equal(t, 1, pd.dialCount())
}

func Test_Client_Reconnect_Fails(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	pd := &pipeDialer{handler: newTestHandler()}
	c := newPipeClient(t, pd, true, nil)
	require.NoError(t, c.Connect(context.Background()))

	pd.setFail(true)
	pd.server(0).Disconnect()
	waitDone(t, c)
	assert.IsType(t, ReconnectError{}, errors.Cause(c.Err()))
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 2, pd.dialCount())

	time.Sleep(time.Millisecond * 20)
	assert.Equal(t, 2, pd.dialCount())
}

func Test_Client_PendingFailsOnDrop(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	th := newTestHandler()
	pd := &pipeDialer{handler: th}
	c := newPipeClient(t, pd, false, nil)
	require.NoError(t, c.Connect(context.Background()))

	go func() {
		<-th.blocked
		pd.server(0).Disconnect()
	}()
	_, err := c.Send(context.Background(), NewStreamingRequest("GET", "/block"))
	assert.True(t, IsDisconnected(err))
	waitDone(t, c)
	assert.Zero(t, c.requests.Pending())
}

func Test_Client_ServerInitiatedRequest(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	pd := &pipeDialer{}
	c := newPipeClient(t, pd, false, newTestHandler())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	srv := pd.server(0)
	require.Eventually(t, srv.IsConnected, waitTimeout, time.Millisecond)
	ping(t, srv)
}

func Test_Client_Disconnect_Idle(t *testing.T) {
	c := newPipeClient(t, &pipeDialer{}, true, nil)
	c.Disconnect()
	waitDone(t, c)
	assert.NoError(t, c.Err())
	assert.Equal(t, StateDisconnected, c.State())
}
