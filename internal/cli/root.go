package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/config"
	"github.com/Joseda-hg/tasksync/internal/coordinator"
	"github.com/Joseda-hg/tasksync/internal/db"
	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/session"
	"github.com/Joseda-hg/tasksync/internal/tasks"
)

var errNotLoggedIn = errors.New("not logged in; run `tasksync login` first")

type App struct {
	ConfigPath string
	ServerURL  string
	DBPath     string
	LogLevel   string
	WebPort    int
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "tasksync",
		Short:        "Terminal client for a remote task service",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Start the interactive TUI
  tasksync

  # Log in and list overdue, high urgency tasks
  tasksync login --username ana
  tasksync list --overdue --urgency High
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runTUI(cmd, app, false)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr("TASKSYNC_CONFIG", ""), "Config file path")
	cmd.PersistentFlags().StringVar(&app.ServerURL, "server", "", "Task service base URL (overrides TASKSYNC_SERVER and config)")
	cmd.PersistentFlags().StringVar(&app.DBPath, "db", "", "Client sqlite db path (overrides TASKSYNC_DB and config)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newRegisterCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newAddCmd(app))
	cmd.AddCommand(newEditCmd(app))
	cmd.AddCommand(newDeleteCmd(app))
	cmd.AddCommand(newDoneCmd(app))
	cmd.AddCommand(newTUICmd(app))
	cmd.AddCommand(newWebCmd(app))

	return cmd
}

// engine is the wired client: persisted session, transport, store and coordinator.
type engine struct {
	cfg    config.Config
	conn   *sql.DB
	logger *slog.Logger
	closer io.Closer
	holder *session.Holder
	client *api.Client
	store  *tasks.Store
	coord  *coordinator.Coordinator
}

func (app *App) loadConfig() (config.Config, error) {
	path := app.ConfigPath
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
		path = defaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv()
	if app.ServerURL != "" {
		cfg.ServerURL = app.ServerURL
	}
	if app.DBPath != "" {
		cfg.DBPath = app.DBPath
	}
	if app.LogLevel != "" {
		cfg.LogLevel = app.LogLevel
	}
	if app.WebPort != 0 {
		cfg.WebPort = app.WebPort
	}
	cfg.Resolve(path)

	if err := config.Save(path, cfg); err != nil {
		return config.Config{}, fmt.Errorf("save config: %w", err)
	}
	return cfg, nil
}

// openEngine builds the client stack and restores the persisted credential.
func openEngine(ctx context.Context, app *App) (*engine, error) {
	cfg, err := app.loadConfig()
	if err != nil {
		return nil, err
	}

	if err := config.EnsureDir(cfg.LogPath); err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(logging.Options{Path: cfg.LogPath, Level: cfg.LogLevel})
	if err != nil {
		return nil, err
	}

	if err := config.EnsureDir(cfg.DBPath); err != nil {
		_ = closer.Close()
		return nil, err
	}
	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	holder := session.NewHolder(db.NewStore(conn), logger)
	client := api.New(cfg.ServerURL,
		api.WithTimeout(cfg.RequestTimeout()),
		api.WithLogger(logger),
		api.WithUnauthorizedHandler(holder.OnUnauthorized))
	store := tasks.New(client, holder, logger)
	e := &engine{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		closer: closer,
		holder: holder,
		client: client,
		store:  store,
		coord:  coordinator.New(holder, store, client, logger),
	}

	if err := holder.Restore(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return e, nil
}

func (e *engine) requireSession() error {
	if _, ok := e.holder.Credential(); !ok {
		return errNotLoggedIn
	}
	return nil
}

func (e *engine) Close() {
	e.coord.Stop()
	_ = e.conn.Close()
	_ = e.closer.Close()
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
