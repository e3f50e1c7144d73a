package server

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"
)

// DefaultMaxConnections is the connection pair limit when none is given
const DefaultMaxConnections = 10

// DefaultBacklogSize is the per-direction backlog capacity in bytes
const DefaultBacklogSize = 65530

// AppConfig describes the general configuration of an App
type AppConfig struct {
	// local TCP port to listen on
	ListenPort int

	// where connections are forwarded to
	RemoteHost string
	RemotePort int

	// maximum simultaneous connection pairs
	MaxConnections int

	// per-direction backlog capacity, in bytes
	BacklogSize int

	// escalate backlog overflow and outbound connect failures to
	// process-fatal faults (historical behavior) instead of tearing
	// down only the affected connection
	StrictFaults bool

	// show trace messages
	Trace bool
}

type tomlAppConfig struct {
	ListenPort     int    `toml:"listen_port"`
	RemoteHost     string `toml:"remote_host"`
	RemotePort     int    `toml:"remote_port"`
	MaxConnections int    `toml:"max_connections"`
	BacklogSize    string `toml:"backlog_size"`
	StrictFaults   bool   `toml:"strict_faults"`
	Trace          bool   `toml:"trace"`
}

// NewAppConfig returns an AppConfig with default settings
func NewAppConfig() *AppConfig {
	return &AppConfig{
		MaxConnections: DefaultMaxConnections,
		BacklogSize:    DefaultBacklogSize,
	}
}

// NewAppConfigFromTomlFile returns an AppConfig using
// the given TOML config file
func NewAppConfigFromTomlFile(filename string) (*AppConfig, error) {
	appConfig := NewAppConfig()

	// defaults (if not in the file)
	tConfig := &tomlAppConfig{
		MaxConnections: DefaultMaxConnections,
		BacklogSize:    (datasize.ByteSize(DefaultBacklogSize) * datasize.B).String(),
	}

	meta, err := toml.DecodeFile(filename, tConfig)
	if err != nil {
		return nil, err
	}

	undecoded := meta.Undecoded()
	for _, param := range undecoded {
		return nil, fmt.Errorf("unknown setting '%s'", param)
	}

	appConfig.ListenPort = tConfig.ListenPort
	appConfig.RemoteHost = tConfig.RemoteHost
	appConfig.RemotePort = tConfig.RemotePort
	appConfig.MaxConnections = tConfig.MaxConnections
	appConfig.StrictFaults = tConfig.StrictFaults
	appConfig.Trace = tConfig.Trace

	var backlogSize datasize.ByteSize
	err = backlogSize.UnmarshalText([]byte(tConfig.BacklogSize))
	if err != nil {
		return nil, fmt.Errorf("invalid backlog_size '%s': %s", tConfig.BacklogSize, err)
	}
	appConfig.BacklogSize = int(backlogSize.Bytes())

	return appConfig, nil
}

// Validate checks that settings are usable for a real listener
func (conf *AppConfig) Validate() error {
	if conf.ListenPort < 1 || conf.ListenPort > 65535 {
		return fmt.Errorf("'%d' is a silly local port to use", conf.ListenPort)
	}

	if conf.RemoteHost == "" {
		return fmt.Errorf("no remote host specified")
	}

	if conf.RemotePort < 1 || conf.RemotePort > 65535 {
		return fmt.Errorf("'%d' is a silly remote port to use", conf.RemotePort)
	}

	if conf.MaxConnections < 1 || conf.MaxConnections > 65535 {
		return fmt.Errorf("'%d' is a silly maximum number of connections", conf.MaxConnections)
	}

	if conf.BacklogSize < 1 {
		return fmt.Errorf("backlog size must be at least one byte")
	}

	return nil
}
