package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"graphauth/go-backend/internal/app"
	"graphauth/go-backend/internal/bootstrap/graphconfig"
	"graphauth/go-backend/internal/composition/daemon"
	"graphauth/go-backend/internal/platform/otel"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const serviceName = "graphauth"

// cli holds what the persistent pre-run resolves for every subcommand.
type cli struct {
	configPath string
	dataDir    string
	logLevel   string

	out      io.Writer
	logger   *slog.Logger
	rt       *daemon.Runtime
	shutdown func(context.Context) error
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	root := NewRootCommand(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// NewRootCommand builds the command tree writing results to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "graphauth",
		Short:         "Account and session management over a replicated graph store",
		Version:       fmt.Sprintf("%s commit=%s build_date=%s", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to graphauth.yaml (optional)")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", "", "directory for graph, device key and session files")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug | info | warn | error (default from GRAPHAUTH_LOG_LEVEL)")

	root.AddCommand(
		signupCmd(c),
		loginCmd(c),
		restoreCmd(c),
		logoutCmd(c),
		whoamiCmd(c),
		resolveCmd(c),
		deriveCmd(c),
		phraseCmd(c),
		serveMetricsCmd(c),
		doctorCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	if c.logLevel != "" {
		c.logger = app.NewLogger(os.Stderr, c.logLevel)
	} else {
		c.logger = app.DefaultLogger()
	}
	if cmd.Annotations[offlineAnnotation] == "true" {
		return nil
	}

	cfg, err := graphconfig.LoadFromPath(c.configPath)
	if err != nil {
		return err
	}
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}

	ctx := cmd.Context()
	shutdown, err := otel.Setup(ctx, serviceName)
	if err != nil {
		c.logger.Warn("tracing disabled", "error", err)
	}
	c.shutdown = shutdown

	rt, err := daemon.Build(ctx, cfg, c.logger)
	if err != nil {
		_ = c.teardown(ctx)
		return err
	}
	c.rt = rt
	return nil
}

func (c *cli) teardown(ctx context.Context) error {
	var err error
	if c.rt != nil {
		err = c.rt.Close()
		c.rt = nil
	}
	if c.shutdown != nil {
		if serr := c.shutdown(context.WithoutCancel(ctx)); serr != nil {
			c.logger.Warn("trace shutdown failed", "error", serr)
		}
		c.shutdown = nil
	}
	return err
}

// run releases the runtime after fn whether or not it failed; cobra skips
// post-run hooks on error.
func (c *cli) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if terr := c.teardown(cmd.Context()); err == nil {
			err = terr
		}
		return err
	}
}

// offlineAnnotation marks commands that need no runtime.
const offlineAnnotation = "graphauth/offline"

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
