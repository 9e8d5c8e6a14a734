// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// TransportConfig holds the settings shared by both ends of a connection.
type TransportConfig struct {
	// FrameSize is the maximum payload bytes per outbound frame.
	FrameSize int `mapstructure:"frame_size"`
	// MaxPayloadSize limits the size of one reassembled inbound payload.
	MaxPayloadSize int `mapstructure:"max_payload_size"`
	// MaxAssemblies limits how many inbound payloads may be in progress at once.
	MaxAssemblies int `mapstructure:"max_assemblies"`
	// SendQueueSize is the number of frames that may wait for the writer.
	SendQueueSize int `mapstructure:"send_queue_size"`

	Logger         hclog.Logger   `mapstructure:"-"`
	StatsCollector StatsCollector `mapstructure:"-"` // optional
}

// DefaultTransportConfig returns the default transport settings.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		FrameSize:      FrameMaxPayloadSize,
		MaxPayloadSize: DefaultMaxPayloadSize,
		MaxAssemblies:  DefaultMaxAssemblies,
		SendQueueSize:  DefaultSendQueueSize,
	}
}

// withDefaults fills unset fields from DefaultTransportConfig.
func (tc TransportConfig) withDefaults() TransportConfig {
	def := DefaultTransportConfig()
	if tc.FrameSize < 1 || tc.FrameSize > MaxPayloadLength {
		tc.FrameSize = def.FrameSize
	}
	if tc.MaxPayloadSize < 1 {
		tc.MaxPayloadSize = def.MaxPayloadSize
	}
	if tc.MaxAssemblies < 1 {
		tc.MaxAssemblies = def.MaxAssemblies
	}
	if tc.SendQueueSize < 1 {
		tc.SendQueueSize = def.SendQueueSize
	}
	if tc.Logger == nil {
		tc.Logger = hclog.NewNullLogger()
	}
	return tc
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Target is the address to dial, such as ws://host/api/messages or tcp://host:port.
	Target string `mapstructure:"target"`
	// AutoReconnect makes one reconnect attempt after each lost connection.
	AutoReconnect bool `mapstructure:"auto_reconnect"`
	// DialTimeout bounds the socket handshake.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	Transport TransportConfig `mapstructure:"transport"`

	// Handler serves requests initiated by the server. Optional.
	Handler RequestHandler `mapstructure:"-"`
	// Dialer opens the socket. If nil, DialerFor(Target) selects one.
	Dialer Dialer `mapstructure:"-"`
}

// DefaultClientConfig returns a ClientConfig with AutoReconnect enabled.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		AutoReconnect: true,
		DialTimeout:   DefaultDialTimeout,
		Transport:     DefaultTransportConfig(),
	}
}

// HostConfig configures a Host.
type HostConfig struct {
	// Addr is the TCP address to listen on, DefaultListenAddr if empty.
	Addr string `mapstructure:"addr"`
	// MaxServers limits concurrently served connections; zero means no limit.
	MaxServers int `mapstructure:"max_servers"`

	Transport TransportConfig `mapstructure:"transport"`
}

// DefaultHostConfig returns the default Host settings.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Addr:      DefaultListenAddr,
		Transport: DefaultTransportConfig(),
	}
}

// DecodeClientConfig decodes raw settings, such as those read from a
// configuration file, on top of DefaultClientConfig.
func DecodeClientConfig(raw map[string]interface{}) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := decodeConfig(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DecodeHostConfig decodes raw settings on top of DefaultHostConfig.
func DecodeHostConfig(raw map[string]interface{}) (HostConfig, error) {
	cfg := DefaultHostConfig()
	if err := decodeConfig(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeConfig(raw map[string]interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(decoder.Decode(raw), "decoding config")
}
