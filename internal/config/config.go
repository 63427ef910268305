package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds every knob shared by the tracker and the peers. Timeouts are
// all explicit so tests can shrink them.
type Config struct {
	// ChunkSize is the number of bytes per chunk. Peers must agree on it.
	ChunkSize int64

	// MinPort and MaxPort bound the random search for session and serving
	// ports. MinPort == 0 lets the kernel choose.
	MinPort      int
	MaxPort      int
	PortAttempts int

	// AcceptTimeout is how long the coordinator waits for a connection
	// before it drains the task queue instead.
	AcceptTimeout time.Duration

	// PollInterval is how long a peer waits for tracker news when nothing
	// it misses has a live holder.
	PollInterval time.Duration

	// ReconnectTimeout bounds how long a session waits for its peer to
	// show up on the dedicated port.
	ReconnectTimeout time.Duration

	// HandshakeTimeout bounds each handshake read on either side.
	HandshakeTimeout time.Duration

	WriteTimeout time.Duration

	// FetchTimeout bounds one direct chunk exchange between peers.
	FetchTimeout time.Duration

	// RequestInterval is the minimum gap between two chunk requests of one peer.
	RequestInterval time.Duration

	// MinAliveTime is the cooldown a peer waits once it has everything.
	MinAliveTime time.Duration

	MaxMessageSize uint32
}

func Default() Config {
	return Config{
		ChunkSize:        512,
		MinPort:          20000,
		MaxPort:          60000,
		PortAttempts:     12,
		AcceptTimeout:    100 * time.Millisecond,
		PollInterval:     50 * time.Millisecond,
		ReconnectTimeout: 10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		FetchTimeout:     2 * time.Second,
		RequestInterval:  20 * time.Millisecond,
		MinAliveTime:     5 * time.Second,
		MaxMessageSize:   2 * 1024 * 1024,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.MinPort < 0 || c.MaxPort > 65535 {
		errs = append(errs, fmt.Errorf("port range %d-%d out of bounds", c.MinPort, c.MaxPort))
	}
	if c.MinPort != 0 && c.MaxPort < c.MinPort {
		errs = append(errs, fmt.Errorf("max port %d below min port %d", c.MaxPort, c.MinPort))
	}
	if c.PortAttempts < 1 {
		errs = append(errs, errors.New("port attempts must be at least 1"))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"accept timeout", c.AcceptTimeout},
		{"poll interval", c.PollInterval},
		{"reconnect timeout", c.ReconnectTimeout},
		{"handshake timeout", c.HandshakeTimeout},
		{"fetch timeout", c.FetchTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.d))
		}
	}
	if c.RequestInterval < 0 || c.MinAliveTime < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("request interval, min alive time and write timeout can't be negative"))
	}
	if c.MaxMessageSize != 0 && int64(c.MaxMessageSize) < c.ChunkSize {
		errs = append(errs, fmt.Errorf("max message size %d can't hold a %d byte chunk", c.MaxMessageSize, c.ChunkSize))
	}
	return errors.Join(errs...)
}
