// Package config loads the TOML configuration shared by the server and
// client binaries.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mahitmehta/mrial/proto"
)

// Server holds the tunables a server reads at startup.
type Server struct {
	Port             uint16        `toml:"port"`
	UserStorePath    string        `toml:"user_store_path"`
	PingTolerance    time.Duration `toml:"-"`
	PingToleranceSec int           `toml:"ping_tolerance_seconds"`
	SweepIntervalSec int           `toml:"sweep_interval_seconds"`
	XOREnabled       bool          `toml:"xor_parity"`
	MetricsAddr      string        `toml:"metrics_addr"`
}

// Client holds the tunables a client reads at startup.
type Client struct {
	ServerAddr       string        `toml:"server_addr"`
	Username         string        `toml:"username"`
	Password         string        `toml:"password"`
	PingFrequencySec int           `toml:"ping_frequency_seconds"`
	PingFrequency    time.Duration `toml:"-"`
}

// DefaultServer returns a Server with the original protocol's defaults.
func DefaultServer() Server {
	return Server{
		Port:             proto.DefaultServerPort,
		UserStorePath:    "users.json",
		PingTolerance:    proto.ServerPingTolerance * time.Second,
		PingToleranceSec: proto.ServerPingTolerance,
		SweepIntervalSec: 1,
		XOREnabled:       false,
		MetricsAddr:      ":9090",
	}
}

// DefaultClient returns a Client with the original protocol's defaults.
func DefaultClient() Client {
	return Client{
		ServerAddr:       "127.0.0.1:8554",
		PingFrequencySec: proto.ClientPingFrequency,
	}
}

// LoadServer reads and parses a Server config from path, filling in any
// field left zero with DefaultServer's value.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Server{}, err
	}
	cfg.PingTolerance = time.Duration(cfg.PingToleranceSec) * time.Second
	return cfg, nil
}

// LoadClient reads and parses a Client config from path.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Client{}, err
	}
	cfg.PingFrequency = time.Duration(cfg.PingFrequencySec) * time.Second
	return cfg, nil
}
