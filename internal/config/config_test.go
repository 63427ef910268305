package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"kernel picked ports", func(c *Config) { c.MinPort, c.MaxPort = 0, 0 }, false},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, true},
		{"inverted port range", func(c *Config) { c.MinPort, c.MaxPort = 30000, 20000 }, true},
		{"port above range", func(c *Config) { c.MaxPort = 70000 }, true},
		{"no port attempts", func(c *Config) { c.PortAttempts = 0 }, true},
		{"zero accept timeout", func(c *Config) { c.AcceptTimeout = 0 }, true},
		{"negative min alive", func(c *Config) { c.MinAliveTime = -time.Second }, true},
		{"message smaller than chunk", func(c *Config) { c.MaxMessageSize = 100 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
