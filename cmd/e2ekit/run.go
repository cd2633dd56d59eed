package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bft-labs/e2ekit/pkg/e2ekit"
)

// classFlags describe a test class on the command line. They are forwarded
// verbatim to isolated child processes.
type classFlags struct {
	fixtures       []string
	cleanupPerTest bool
	appPerTest     bool
	exec           string
}

func (f *classFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.fixtures, "fixture", nil, "fixture keys to load (default: every fixture in the manifest)")
	cmd.Flags().BoolVar(&f.cleanupPerTest, "cleanup-per-test", false, "unload fixture tables after each test")
	cmd.Flags().BoolVar(&f.appPerTest, "app-per-test", false, "create a new application for each test")
	cmd.Flags().StringVar(&f.exec, "exec", "", "shell command run as the body of each test")
}

func (f *classFlags) args() []string {
	var out []string
	for _, k := range f.fixtures {
		out = append(out, "--fixture", k)
	}
	if f.cleanupPerTest {
		out = append(out, "--cleanup-per-test")
	}
	if f.appPerTest {
		out = append(out, "--app-per-test")
	}
	if f.exec != "" {
		out = append(out, "--exec", f.exec)
	}
	return out
}

func (f *classFlags) class(c *cli, id string) (e2ekit.TestClass, error) {
	reg, err := c.registry()
	if err != nil {
		return e2ekit.TestClass{}, err
	}
	keys := f.fixtures
	if len(keys) == 0 {
		keys = reg.Keys()
	}
	decls, err := reg.Declarations(keys...)
	if err != nil {
		return e2ekit.TestClass{}, err
	}

	class := e2ekit.TestClass{
		ID:             id,
		Fixtures:       decls,
		CleanupPerTest: f.cleanupPerTest,
	}
	if f.appPerTest {
		class.AppScope = e2ekit.AppPerTest
	}
	return class, nil
}

// body runs the --exec command with the test identity in its environment.
// The class environment is already applied to the process at this point.
func (f *classFlags) body() e2ekit.TestFunc {
	if f.exec == "" {
		return nil
	}
	return func(ctx context.Context, cc *e2ekit.Context, tc e2ekit.TestCase) error {
		cmd := exec.CommandContext(ctx, "sh", "-c", f.exec)
		cmd.Env = append(os.Environ(),
			"E2EKIT_CLASS="+cc.Class.ID,
			"E2EKIT_TEST="+tc.Name,
			"E2EKIT_ROLE="+cc.Role.String(),
		)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
}

func newRunCommand(c *cli) *cobra.Command {
	var (
		flags    classFlags
		tests    []string
		isolated []string
	)

	cmd := &cobra.Command{
		Use:   "run CLASS",
		Short: "Run the lifecycle of a test class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := flags.class(c, args[0])
			if err != nil {
				return err
			}

			if len(tests) == 0 {
				tests = []string{"default"}
			}
			for _, name := range isolated {
				if !slices.Contains(tests, name) {
					return fmt.Errorf("isolated test %q is not in --test", name)
				}
			}
			cases := make([]e2ekit.TestCase, len(tests))
			for i, name := range tests {
				cases[i] = e2ekit.TestCase{Name: name, Isolated: slices.Contains(isolated, name)}
			}

			coord, err := c.coordinator(e2ekit.WithSpawner(c.spawner(&flags)))
			if err != nil {
				return err
			}
			defer coord.Close()

			return coord.Run(cmd.Context(), class, cases, flags.body())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&tests, "test", nil, "test names, in order")
	cmd.Flags().StringSliceVar(&isolated, "isolate", nil, "tests to run in a separate process")
	return cmd
}

// spawner runs an isolated test by executing this binary again. Settings
// reach the child as E2EKIT_* variables, which the child ranks above its
// config file.
func (c *cli) spawner(flags *classFlags) e2ekit.Spawner {
	return func(ctx context.Context, class e2ekit.TestClass, tc e2ekit.TestCase, boundary bool) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}

		args := c.childArgs(flags, class.ID, tc.Name, boundary)
		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Env = append(os.Environ(), c.childEnv()...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		c.zl.Debug().Str("exe", exe).Strs("args", args).Msg("spawning isolated process")
		return cmd.Run()
	}
}

func (c *cli) childArgs(flags *classFlags, classID, test string, boundary bool) []string {
	args := append([]string{"exec-isolated", classID, "--test", test}, flags.args()...)
	if boundary {
		args = append(args, "--boundary")
	}
	if c.cfgPath != "" {
		args = append(args, "--config", c.cfgPath)
	}
	return args
}

// childEnv carries every effective setting to the child process.
func (c *cli) childEnv() []string {
	return []string{
		"E2EKIT_STATE_DIR=" + c.cfg.StateDir,
		"E2EKIT_ENV_CONFIG=" + c.cfg.EnvConfig,
		"E2EKIT_MANIFEST=" + c.cfg.Manifest,
		"E2EKIT_LOCK_TIMEOUT=" + c.cfg.LockTimeout.String(),
		"E2EKIT_LOG_LEVEL=" + c.cfg.LogLevel,
		"E2EKIT_WATCH_CONFIG=" + strconv.FormatBool(c.cfg.WatchConfig),
	}
}

func newExecIsolatedCommand(c *cli) *cobra.Command {
	var (
		flags    classFlags
		test     string
		boundary bool
	)

	cmd := &cobra.Command{
		Use:    "exec-isolated CLASS",
		Short:  "Run one isolated test of a class (used by run)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			class, err := flags.class(c, args[0])
			if err != nil {
				return err
			}

			coord, err := c.coordinator()
			if err != nil {
				return err
			}
			defer coord.Close()

			if err := coord.ClassSetup(ctx, class); err != nil {
				return err
			}
			defer func() {
				if terr := coord.ClassTeardown(ctx); terr != nil && err == nil {
					err = terr
				}
			}()
			if coord.Role() != e2ekit.RoleSecondary {
				c.zl.Warn().Str("class", class.ID).Msg("isolated test started without a main process")
			}

			tc := e2ekit.TestCase{Name: test, Isolated: true}
			return coord.RunTest(ctx, tc, boundary, flags.body())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&test, "test", "", "test name")
	cmd.Flags().BoolVar(&boundary, "boundary", false, "the test is the last of its class")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}
