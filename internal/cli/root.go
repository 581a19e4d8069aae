// Package cli implements the venue command: the HTTP server plus the
// operator tools that work on saved submissions.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-venue-backend/internal/config"
	"github.com/tbourn/go-venue-backend/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// Options controls where the command writes and which env file it reads.
type Options struct {
	Out     io.Writer // command output; logs go to LogOut
	LogOut  io.Writer
	EnvFile string // loaded before config; missing is fine
}

// DefaultOptions writes to stdout/stderr and reads ./.env.
func DefaultOptions() Options {
	return Options{Out: os.Stdout, LogOut: os.Stderr, EnvFile: ".env"}
}

type runtimeState struct {
	envFile string
	cfg     config.Config
	log     zerolog.Logger
	out     io.Writer
	logOut  io.Writer
}

type runtimeKey struct{}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	rt := &runtimeState{envFile: opts.EnvFile, out: opts.Out, logOut: opts.LogOut}
	if rt.out == nil {
		rt.out = os.Stdout
	}
	if rt.logOut == nil {
		rt.logOut = os.Stderr
	}

	root := &cobra.Command{
		Use:           "venue",
		Short:         "Venue website backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := loadEnvFile(rt.envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			rt.cfg = cfg
			rt.log = sysutil.ConfigureLogger(rt.logOut, cfg.LogLevel, cfg.LogPretty)
			return nil
		},
	}
	root.SetOut(rt.out)
	root.PersistentFlags().StringVar(&rt.envFile, "env-file", rt.envFile, "dotenv file loaded before reading the environment")
	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newServeCommand(),
		newResendCommand(),
		newPurgeCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command with args and returns the process exit code.
func Execute(opts Options, args []string) int {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		w := opts.LogOut
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintln(w, "error:", err)
		return 1
	}
	return 0
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// loadEnvFile applies path without overriding variables already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "venue %s\n", Version)
			return err
		},
	}
}
