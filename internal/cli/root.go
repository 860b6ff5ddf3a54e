// Package cli implements the netkit command line.
package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/version"
)

type rootOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string
	// settings are bound to configuration keys, so flag names follow the key names.
	settings *pflag.FlagSet

	app *app
}

// NewRootCommand builds the netkit command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{settings: pflag.NewFlagSet("settings", pflag.ContinueOnError)}

	cmd := &cobra.Command{
		Use:   "netkit",
		Short: "HTTP, download, upload and WebSocket client",
		Long: `netkit drives the netkit client stack from the command line: REST calls with
retries, downloads and uploads with progress, WebSocket sessions, reachability
monitoring and pin inspection.

Settings come from --config, NETKIT_* environment variables and the flags below.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if opts.app != nil {
				opts.app.close(cmd.Context())
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")

	s := opts.settings
	s.Duration("timeout", 60*time.Second, "request timeout")
	s.Bool("log_requests", false, "log every request and response")
	s.Int("retry.max_attempts", 1, "attempts per request")
	s.String("retry.policy", "immediate", "retry policy (immediate, constant, exponential)")
	s.Duration("retry.initial", 200*time.Millisecond, "first retry delay")
	s.String("auth.token", "", "bearer token sent with every request")
	pf.AddFlagSet(s)

	cmd.AddCommand(
		newGetCommand(opts),
		newDownloadCommand(opts),
		newUploadCommand(opts),
		newWebSocketCommand(opts),
		newReachCommand(opts),
		newPinsCommand(),
	)
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	log, err := logger.NewLogger(logger.LoggerOptions{Level: o.logLevel, Encoding: "console"})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if cmd.Annotations["offline"] == "true" {
		return nil
	}
	a, err := newApp(cmd.Context(), log, o.configPath, o.settings)
	if err != nil {
		return err
	}
	o.app = a

	if o.metricsAddr != "" {
		srv := &http.Server{Addr: o.metricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WarnF("metrics server: %v", err)
			}
		}()
		go func() {
			<-cmd.Context().Done()
			_ = srv.Close()
		}()
	}
	return nil
}
