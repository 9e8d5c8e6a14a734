package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config_DecodeClientConfig(t *testing.T) {
	cfg, err := DecodeClientConfig(map[string]interface{}{
		"target":         "ws://localhost:3978/api/messages",
		"auto_reconnect": false,
		"dial_timeout":   "5s",
		"transport": map[string]interface{}{
			"frame_size":     "1024",
			"max_assemblies": 8,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3978/api/messages", cfg.Target)
	assert.False(t, cfg.AutoReconnect)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 1024, cfg.Transport.FrameSize)
	assert.Equal(t, 8, cfg.Transport.MaxAssemblies)
	assert.Equal(t, DefaultMaxPayloadSize, cfg.Transport.MaxPayloadSize)
}

func Test_Config_DecodeClientConfig_Defaults(t *testing.T) {
	cfg, err := DecodeClientConfig(nil)
	require.NoError(t, err)
	assert.True(t, cfg.AutoReconnect)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultTransportConfig(), cfg.Transport)
}

func Test_Config_DecodeClientConfig_Unknown(t *testing.T) {
	_, err := DecodeClientConfig(map[string]interface{}{"no_such_key": 1})
	assert.Error(t, err)
}

func Test_Config_DecodeHostConfig(t *testing.T) {
	cfg, err := DecodeHostConfig(map[string]interface{}{
		"addr":        "127.0.0.1:0",
		"max_servers": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.Addr)
	assert.Equal(t, 3, cfg.MaxServers)
	assert.Equal(t, DefaultSendQueueSize, cfg.Transport.SendQueueSize)
}

func Test_Config_TransportConfig_withDefaults(t *testing.T) {
	tc := TransportConfig{FrameSize: MaxPayloadLength + 1, MaxAssemblies: -1}.withDefaults()
	assert.Equal(t, FrameMaxPayloadSize, tc.FrameSize)
	assert.Equal(t, DefaultMaxAssemblies, tc.MaxAssemblies)
	assert.NotNil(t, tc.Logger)

	tc = TransportConfig{FrameSize: 100}.withDefaults()
	assert.Equal(t, 100, tc.FrameSize)
}
