// Package cli implements masteryctl, the device-side command line client:
// offline content cache, queued ledger mutations, sync and status.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alem-hub/mastery-engine/config"
	"github.com/alem-hub/mastery-engine/internal/client/offline"
	"github.com/alem-hub/mastery-engine/internal/client/remote"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"

	v *viper.Viper
}

// App is the per-invocation client state, built after flags are parsed.
type App struct {
	Config *config.ClientConfig
	Log    *logger.Logger
	Clock  timeutil.Clock

	Store  *offline.Store
	Remote *remote.Client
	Sync   *offline.SyncClient

	format string
	out    io.Writer
}

type appKey struct{}

func withApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

func appFrom(ctx context.Context) *App {
	if ctx == nil {
		return nil
	}
	app, _ := ctx.Value(appKey{}).(*App)
	return app
}

// NewRootCommand creates the masteryctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: config.NewClientViper()}

	cmd := &cobra.Command{
		Use:           "masteryctl",
		Short:         "Offline-first client for the mastery engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			app, err := newApp(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cmd.SetContext(withApp(cmd.Context(), app))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app := appFrom(cmd.Context()); app != nil {
				return app.Close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default masteryctl.yaml)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("server", "", "ledger service base URL")
	flags.String("account", "", "account id")
	flags.String("db", "", "local cache database path")
	flags.String("log-level", "", "log level (debug|info|warn|error)")

	_ = opts.v.BindPFlag("server.url", flags.Lookup("server"))
	_ = opts.v.BindPFlag("account_id", flags.Lookup("account"))
	_ = opts.v.BindPFlag("db_path", flags.Lookup("db"))
	_ = opts.v.BindPFlag("log.level", flags.Lookup("log-level"))

	cmd.AddCommand(NewCacheCommand())
	cmd.AddCommand(NewQueueCommand())
	cmd.AddCommand(NewSprintCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewAdminCommand())

	return cmd
}

func newApp(opts *RootOptions, out, errOut io.Writer) (*App, error) {
	cfg, err := config.LoadClient(opts.v, opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	logOpts := logger.DefaultOptions()
	logOpts.Output = errOut
	logOpts.Level = logger.ParseLevel(cfg.Log.Level)
	logOpts.Format = logger.Format(cfg.Log.Format)
	log := logger.New(logOpts)

	if dir := filepath.Dir(cfg.DBPath); dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	store, err := offline.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	rc := remote.DefaultConfig(cfg.Server.URL, cfg.AccountID)
	rc.Timeout = cfg.Server.Timeout
	rc.RequestsPerSecond = cfg.Server.RequestsPerSecond
	rc.Burst = cfg.Server.Burst
	rc.Logger = log
	client := remote.NewClient(rc)

	clock := timeutil.SystemClock{}
	return &App{
		Config: cfg,
		Log:    log,
		Clock:  clock,
		Store:  store,
		Remote: client,
		Sync:   offline.NewSyncClient(store, client, clock, log),
		format: strings.ToLower(opts.Format),
		out:    out,
	}, nil
}

// Close releases the local store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

func (a *App) requireAccount() error {
	if a.Config.AccountID == "" {
		return fmt.Errorf("account id is required (--account or MASTERY_ACCOUNT_ID)")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// print writes v as indented JSON in json mode, or calls text otherwise.
func (a *App) print(v any, text func(w io.Writer)) error {
	if a.format == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func (a *App) printRaw(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = a.out.Write(raw)
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == strings.ToLower(format) {
			return true
		}
	}
	return false
}
