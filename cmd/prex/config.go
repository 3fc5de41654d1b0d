package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// runtimeConfig is the assembled harness configuration: defaults,
// overlaid by the TOML file, overlaid by flags.
type runtimeConfig struct {
	Device       string
	SecondDevice string
	RemoteHost   string

	SSHUser       string
	SSHPort       string
	SSHKeyPath    string
	SSHKnownHosts string
	SSHTimeout    time.Duration

	LocalTool      string
	PeerTool       string
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	WWIDCommand []string
	DaemonCheck bool

	OracleCommand    string
	OracleStopWait   time.Duration
	InjectorCommand  string
	InjectorStopWait time.Duration

	MaxIterations int
	Seed          int64
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		LocalTool:        "mpathpersist",
		PeerTool:         "sg_persist",
		MaxAttempts:      5,
		BackoffInitial:   100 * time.Millisecond,
		BackoffMax:       500 * time.Millisecond,
		DaemonCheck:      true,
		OracleCommand:    "prex-iowatch",
		OracleStopWait:   10 * time.Second,
		InjectorCommand:  "prex-pathchaos",
		InjectorStopWait: 30 * time.Second,
		SSHTimeout:       10 * time.Second,
	}
}

// prex.toml key mapping to runtime settings.
type fileConfig struct {
	Device       string `toml:"device"`
	SecondDevice string `toml:"second_device"`
	RemoteHost   string `toml:"remote_host"`

	SSHUser       string `toml:"ssh_user"`
	SSHPort       string `toml:"ssh_port"`
	SSHKeyPath    string `toml:"ssh_key_path"`
	SSHKnownHosts string `toml:"ssh_known_hosts"`
	SSHTimeoutS   int    `toml:"ssh_timeout_s"`

	LocalTool        string   `toml:"local_tool"`
	PeerTool         string   `toml:"peer_tool"`
	MaxAttempts      int      `toml:"max_attempts"`
	BackoffInitialMS int      `toml:"backoff_initial_ms"`
	BackoffMaxMS     int      `toml:"backoff_max_ms"`
	WWIDCommand      []string `toml:"wwid_command"`
	DaemonCheck      bool     `toml:"daemon_check"`

	OracleCommand     string `toml:"oracle_command"`
	OracleStopWaitS   int    `toml:"oracle_stop_wait_s"`
	InjectorCommand   string `toml:"injector_command"`
	InjectorStopWaitS int    `toml:"injector_stop_wait_s"`

	MaxIterations int   `toml:"max_iterations"`
	Seed          int64 `toml:"seed"`
}

// loadRuntimeConfig overlays the TOML file onto the defaults; an empty
// path keeps the defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("second_device") {
		cfg.SecondDevice = strings.TrimSpace(raw.SecondDevice)
	}
	if meta.IsDefined("remote_host") {
		cfg.RemoteHost = strings.TrimSpace(raw.RemoteHost)
	}
	if meta.IsDefined("ssh_user") {
		cfg.SSHUser = strings.TrimSpace(raw.SSHUser)
	}
	if meta.IsDefined("ssh_port") {
		cfg.SSHPort = strings.TrimSpace(raw.SSHPort)
	}
	if meta.IsDefined("ssh_key_path") {
		cfg.SSHKeyPath = strings.TrimSpace(raw.SSHKeyPath)
	}
	if meta.IsDefined("ssh_known_hosts") {
		cfg.SSHKnownHosts = strings.TrimSpace(raw.SSHKnownHosts)
	}
	if meta.IsDefined("ssh_timeout_s") {
		cfg.SSHTimeout = time.Duration(raw.SSHTimeoutS) * time.Second
	}
	if meta.IsDefined("local_tool") {
		cfg.LocalTool = strings.TrimSpace(raw.LocalTool)
	}
	if meta.IsDefined("peer_tool") {
		cfg.PeerTool = strings.TrimSpace(raw.PeerTool)
	}
	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("backoff_initial_ms") {
		cfg.BackoffInitial = time.Duration(raw.BackoffInitialMS) * time.Millisecond
	}
	if meta.IsDefined("backoff_max_ms") {
		cfg.BackoffMax = time.Duration(raw.BackoffMaxMS) * time.Millisecond
	}
	if meta.IsDefined("wwid_command") {
		cfg.WWIDCommand = raw.WWIDCommand
	}
	if meta.IsDefined("daemon_check") {
		cfg.DaemonCheck = raw.DaemonCheck
	}
	if meta.IsDefined("oracle_command") {
		cfg.OracleCommand = strings.TrimSpace(raw.OracleCommand)
	}
	if meta.IsDefined("oracle_stop_wait_s") {
		cfg.OracleStopWait = time.Duration(raw.OracleStopWaitS) * time.Second
	}
	if meta.IsDefined("injector_command") {
		cfg.InjectorCommand = strings.TrimSpace(raw.InjectorCommand)
	}
	if meta.IsDefined("injector_stop_wait_s") {
		cfg.InjectorStopWait = time.Duration(raw.InjectorStopWaitS) * time.Second
	}
	if meta.IsDefined("max_iterations") {
		cfg.MaxIterations = raw.MaxIterations
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}

	return cfg, nil
}

func (c runtimeConfig) validate() error {
	if c.Device == "" {
		return fmt.Errorf("config missing device")
	}
	if c.SecondDevice == "" {
		return fmt.Errorf("config missing second_device")
	}
	if c.Device == c.SecondDevice && c.RemoteHost == "" {
		return fmt.Errorf("both paths name %s on the same host", c.Device)
	}
	if c.RemoteHost != "" {
		if c.SSHUser == "" {
			return fmt.Errorf("remote_host set but ssh_user missing")
		}
		if c.SSHKeyPath == "" {
			return fmt.Errorf("remote_host set but ssh_key_path missing")
		}
	}
	if c.OracleCommand == "" {
		return fmt.Errorf("config missing oracle_command")
	}
	return nil
}
