// Command guardd runs the webhook guard: signed webhook intake with replay
// protection and sliding window rate limiting.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arka-hq/go-guard/adapters/zlog"
	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/webhooks"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "guardd",
		Short:         "Webhook guard: signature checks, replay protection and rate limiting",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := serveCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve)
	root.AddCommand(signCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, os.Stdout)
		},
	}
}

func runServe(ctx context.Context, out io.Writer) error {
	cfg, err := core.ResolveConfig(ctx, core.NewCfgxConfigProvider(core.NewEnvConfigLoader()), nil, core.Config{})
	if err != nil {
		return err
	}
	root, err := zlog.New(cfg.Logging.Format, cfg.Logging.Level, out)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{Provider: zlog.NewProvider(root)})
	if err != nil {
		root.Error("guard startup failed", "error", err)
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			root.Warn("guard store close failed", "error", err)
		}
	}()
	return a.serve(ctx)
}

func signCmd() *cobra.Command {
	var (
		secretEnv string
		file      string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the sha256= signature header for a payload read from stdin or --file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := strings.TrimSpace(os.Getenv(secretEnv))
			if secret == "" {
				return fmt.Errorf("guardd: %s is empty", secretEnv)
			}
			var in io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), webhooks.Sign(body, secret))
			return err
		},
	}
	cmd.Flags().StringVar(&secretEnv, "secret-env", core.DefaultSecretEnv, "environment variable holding the shared secret")
	cmd.Flags().StringVarP(&file, "file", "f", "", "payload file (default stdin)")
	return cmd
}
