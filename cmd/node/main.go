// Command node runs a prover node: it fetches proving tasks from the
// orchestrator, computes proofs with an external prover and submits them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/proofnode/internal/config"
	"github.com/dreamware/proofnode/internal/identity"
	"github.com/dreamware/proofnode/internal/logging"
	"github.com/dreamware/proofnode/internal/supervisor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logFatal("node: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "node",
		Short:         "Prover node for the proof network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStartCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newVersionCmd(),
	)
	return root
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start proving until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.New(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := logging.New("node", logging.Options{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				Out:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			sup, err := supervisor.New(cfg, logger, supervisor.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sup.Run(ctx)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "register-node <node-id>",
		Short: "Remember the node id to prove for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := identityStore(file)
			if err != nil {
				return err
			}
			if err := store.Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered node %s (%s)\n", args[0], store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, config.KeyIdentityFile, "", "identity file (default ~/.nexus/node.yaml)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the registered node id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := identityStore(file)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out; the node will run anonymously until registered again")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, config.KeyIdentityFile, "", "identity file (default ~/.nexus/node.yaml)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// identityStore honours --identity-file and NEXUS_IDENTITY_FILE.
func identityStore(flagValue string) (*identity.Store, error) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	path := flagValue
	if path == "" {
		path = v.GetString("identity_file")
	}
	if path == "" {
		var err error
		if path, err = identity.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return identity.NewStore(path), nil
}

// run executes the CLI with args; used by tests.
func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(io.Discard)
	return root.ExecuteContext(ctx)
}
