package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/harness"
	"github.com/danmuck/prex/internal/logging"
	"github.com/danmuck/prex/internal/multipath"
	"github.com/danmuck/prex/internal/oracle"
	"github.com/danmuck/prex/internal/prtool"
	"github.com/danmuck/prex/internal/runner"
	"github.com/danmuck/prex/internal/verify"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to prex.toml")
		device       = flag.String("device", "", "multipath-mapped device under test")
		secondDevice = flag.String("second-device", "", "second path to the same logical unit")
		remoteHost   = flag.String("remote-host", "", "host owning the second path; empty means this host")
		iterations   = flag.Int("n", 0, "iteration budget; 0 runs until interrupted")
		seed         = flag.Int64("seed", 0, "rng seed for sequence replay; 0 derives one")
		noInjector   = flag.Bool("no-injector", false, "run without the path-failure injector")
	)
	flag.Parse()

	log := logging.ConfigureRuntime("prex")

	cfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prex: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *secondDevice != "" {
		cfg.SecondDevice = *secondDevice
	}
	if *remoteHost != "" {
		cfg.RemoteHost = *remoteHost
	}
	if *iterations != 0 {
		cfg.MaxIterations = *iterations
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *noInjector {
		cfg.InjectorCommand = ""
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "prex: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("run aborted")
		os.Exit(1)
	}
}

func run(cfg runtimeConfig, log zerolog.Logger) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("prex: reservation exchanges require elevated privilege")
	}

	localRun := runner.LocalRunner{}
	var peerRun runner.Runner = runner.LocalRunner{}
	if cfg.RemoteHost != "" {
		peerRun = runner.SSHRunner{
			Host:           cfg.RemoteHost,
			Port:           cfg.SSHPort,
			User:           cfg.SSHUser,
			KeyPath:        cfg.SSHKeyPath,
			KnownHostsPath: cfg.SSHKnownHosts,
			Timeout:        cfg.SSHTimeout,
		}
	}

	// Both paths must name the same storage before anything touches it.
	wwid, err := multipath.VerifySameUnit(localRun, peerRun, cfg.WWIDCommand, cfg.Device, cfg.SecondDevice)
	if err != nil {
		return err
	}
	log.Info().Str("wwid", wwid).Str("device", cfg.Device).Str("second", cfg.SecondDevice).Msg("access paths agree")

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info().Int64("seed", seed).Msg("randomized run; pass -seed to replay")
	rng := rand.New(rand.NewSource(seed))

	toolCfg := prtool.Config{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: prtool.BackoffConfig{
			InitialDelay: cfg.BackoffInitial,
			MaxDelay:     cfg.BackoffMax,
			Multiplier:   2.0,
		},
	}
	localTool := toolCfg
	localTool.Command = cfg.LocalTool
	peerTool := toolCfg
	peerTool.Command = cfg.PeerTool

	local := prtool.NewClient(localRun, cfg.Device, localTool, rng, log.With().Str("path", "local").Logger())
	peer := prtool.NewClient(peerRun, cfg.SecondDevice, peerTool, rng, log.With().Str("path", "peer").Logger())

	var daemon verify.DaemonChannel
	if cfg.DaemonCheck {
		daemon = multipath.NewDaemon(localRun, cfg.Device)
	}

	exec := harness.NewExecutor(local, peer, rng, log)
	verifier := verify.New(local, daemon, log)
	ctl := oracle.NewController(cfg.OracleCommand, cfg.Device, cfg.OracleStopWait, log)

	var injector *oracle.Injector
	if cfg.InjectorCommand != "" {
		injector = oracle.NewInjector(cfg.InjectorCommand, cfg.Device, cfg.InjectorStopWait, log)
	}

	h := harness.New(exec, verifier, ctl, injector, rng, log)
	h.MaxIterations = cfg.MaxIterations

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return h.Run(ctx)
}
