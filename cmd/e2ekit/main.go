package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/e2ekit/internal/cliconfig"
	"github.com/bft-labs/e2ekit/pkg/e2ekit"
	"github.com/bft-labs/e2ekit/pkg/envconfig"
	"github.com/bft-labs/e2ekit/pkg/fixture"
	"github.com/bft-labs/e2ekit/pkg/log"
	"github.com/bft-labs/e2ekit/pkg/state"
)

const helpDescription = `
Prepare databases and environments for end-to-end test classes.

Highlights:
  - Loads fixture tables once per class, in dependency order.
  - Runs isolated tests in child processes that reuse the loaded tables.
  - Resolves environment variables and parameters per test directory.
`

var exampleUsage = strings.TrimSpace(`
  e2ekit run tests/e2e/UsersTest --test testList --test testEdit --isolate testEdit
  e2ekit run tests/e2e/UsersTest --exec 'go test ./tests/e2e -run "$E2EKIT_TEST"'
  e2ekit graph UsersFixture
  e2ekit state show
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the configuration shared by all commands.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string

	zl     zerolog.Logger
	logger log.Logger
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig()}
	c.zl = cliconfig.Logger(c.cfg.LogLevel)

	root := &cobra.Command{
		Use:           "e2ekit",
		Short:         "Fixture lifecycle orchestration for end-to-end tests",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.e2ekit/config.toml)")
	pf.StringVar(&c.cfg.StateDir, "state-dir", c.cfg.StateDir, "directory of the shared state file")
	pf.StringVar(&c.cfg.EnvConfig, "env-config", c.cfg.EnvConfig, "environment scope file")
	pf.StringVar(&c.cfg.Manifest, "manifest", c.cfg.Manifest, "fixture manifest file")
	pf.DurationVar(&c.cfg.LockTimeout, "lock-timeout", c.cfg.LockTimeout, "maximum wait for the state file lock")
	pf.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.BoolVar(&c.cfg.WatchConfig, "watch-config", c.cfg.WatchConfig, "reload the environment scope file when it changes")

	root.AddCommand(
		newRunCommand(c),
		newExecIsolatedCommand(c),
		newGraphCommand(c),
		newStateCommand(c),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		c.zl.Error().Err(err).Msg("e2ekit")
		stop()
		os.Exit(1)
	}
}

// load applies the config file, then E2EKIT_* variables, then flags.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.zl = cliconfig.Logger(c.cfg.LogLevel)
	c.logger = log.NewZerologAdapterWithLogger(c.zl)
	c.zl.Debug().Interface("config", c.cfg).Msg("configuration")
	return nil
}

func (c *cli) coordinator(opts ...e2ekit.Option) (*e2ekit.Coordinator, error) {
	base := []e2ekit.Option{
		e2ekit.WithLogger(c.logger),
		e2ekit.WithConfigWatch(c.cfg.WatchConfig),
	}
	if !cliconfig.FileExists(c.cfg.EnvConfig) {
		c.zl.Warn().Str("file", c.cfg.EnvConfig).Msg("env config not found, using an empty environment")
		base = append(base, e2ekit.WithResolver(envconfig.NewStaticResolver(nil, "")))
	}
	return e2ekit.New(e2ekit.Config{
		StateDir:      c.cfg.StateDir,
		LockTimeout:   c.cfg.LockTimeout,
		EnvConfigFile: c.cfg.EnvConfig,
	}, append(base, opts...)...)
}

func (c *cli) registry() (*fixture.Registry, error) {
	if !cliconfig.FileExists(c.cfg.Manifest) {
		c.zl.Debug().Str("file", c.cfg.Manifest).Msg("no fixture manifest")
		return fixture.NewRegistry(), nil
	}
	reg, err := fixture.LoadManifest(c.cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return reg, nil
}

func (c *cli) store() *state.FileStore {
	return state.NewFileStore(
		filepath.Join(c.cfg.StateDir, state.DefaultFileName),
		state.WithLockTimeout(c.cfg.LockTimeout),
		state.WithLogger(log.Named(c.logger, "state")),
	)
}
