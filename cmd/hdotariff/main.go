package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/bher20/hdotariff/internal/auth"
	"github.com/bher20/hdotariff/internal/config"
	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/migrate"
	"github.com/bher20/hdotariff/internal/present"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/internal/tracker"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
	"github.com/bher20/hdotariff/pkg/providers/distributors/cez"
	_ "github.com/bher20/hdotariff/pkg/providers/distributors/file"
)

type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func main() {
	a := &app{}
	if err := a.rootCmd().ExecuteContext(context.Background()); err != nil {
		log.Default().Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hdotariff",
		Short:         "Track Czech HDO low/high tariff switching schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("HDOTARIFF_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.serveCmd(),
		a.fetchCmd(),
		a.queryCmd(),
		a.signalsCmd(),
		a.migrateCmd(),
		a.tokenCmd(),
	)
	return root
}

func (a *app) loadConfig() error {
	if err := config.LoadDotEnv(); err != nil {
		log.Default().Warn("loading .env failed", slog.Any("error", err))
	}

	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.FromEnv()
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}
	a.cfg.Normalize()

	level, err := log.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetDefaultLogLevel(level)

	if a.cfg.CEZURL != "" {
		distributors.Replace(cez.New(a.cfg.CEZURL))
	}
	return nil
}

// openService validates the config, prepares storage and restores the
// persisted schedules of every meter.
func (a *app) openService(ctx context.Context) (*tracker.Service, storage.Storage, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	if a.cfg.AutoMigrate {
		if err := migrate.Up(ctx, a.cfg.DBDriver, a.cfg.DBDSN); err != nil {
			return nil, nil, fmt.Errorf("auto-migration failed: %w", err)
		}
	}
	st, err := storage.Open(ctx, storage.Config{Driver: a.cfg.DBDriver, DSN: a.cfg.DBDSN})
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	meters := make([]tracker.Meter, 0, len(a.cfg.Meters))
	for _, m := range a.cfg.Meters {
		meters = append(meters, tracker.Meter{
			ID:          m.ID,
			EAN:         m.EAN,
			Signal:      m.Signal,
			Distributor: m.Distributor,
			File:        m.File,
		})
	}
	svc, err := tracker.NewService(st, loc, meters)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if err := svc.Register(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	if err := svc.Restore(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "restore failed", slog.Any("error", err))
	}
	return svc, st, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Refresh every meter once and persist the schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			refreshErr := svc.RefreshAll(ctx)
			statuses := make([]tracker.Status, 0)
			for _, t := range svc.Trackers() {
				statuses = append(statuses, t.Status(time.Now()))
			}
			if err := printJSON(cmd, statuses); err != nil {
				return err
			}
			return refreshErr
		},
	}
}

type queryOutput struct {
	Meter    string           `json:"meter"`
	State    string           `json:"state"`
	Error    string           `json:"error,omitempty"`
	Entities []present.Entity `json:"entities"`
}

func (a *app) queryCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the tariff entities of every meter from stored schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			instant := time.Now()
			if at != "" {
				if instant, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			instant = instant.In(svc.Location())

			lang := a.cfg.Lang()
			var out []queryOutput
			for _, t := range svc.Trackers() {
				res, err := tariff.Query(t.Store(), instant)
				if err != nil {
					out = append(out, queryOutput{
						Meter:    t.Meter().ID,
						State:    "unknown",
						Error:    err.Error(),
						Entities: present.UnknownEntities(lang),
					})
					continue
				}
				out = append(out, queryOutput{
					Meter:    t.Meter().ID,
					State:    string(res.Kind),
					Entities: present.Entities(res, lang),
				})
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant to evaluate (default now)")
	return cmd
}

func (a *app) signalsCmd() *cobra.Command {
	var ean, key string
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "List the HDO signals published for a supply point",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := distributors.Get(key)
			if !ok {
				return fmt.Errorf("unknown distributor %q (available: %v)", key, distributors.List())
			}
			signals, err := d.ListSignals(cmd.Context(), ean)
			if err != nil {
				return err
			}
			return printJSON(cmd, signals)
		},
	}
	cmd.Flags().StringVar(&ean, "ean", "", "supply point EAN")
	cmd.Flags().StringVar(&key, "distributor", "cez", "distributor key")
	_ = cmd.MarkFlagRequired("ean")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	step := func(use, short string, fn func(context.Context, string, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return fn(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
			},
		}
	}
	cmd.AddCommand(
		step("up", "Apply all pending migrations", migrate.Up),
		step("down", "Roll back the latest migration", migrate.Down),
		step("status", "Show migration status", migrate.Status),
	)
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token and the config entry holding its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ValidRole(role); err != nil {
				return err
			}
			raw, hash, err := auth.NewToken()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n", raw)
			fmt.Fprintf(out, "HDOTARIFF_API_TOKENS=%s:%s:%s\n", name, role, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "default", "token name")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "role: viewer, operator or admin")
	return cmd
}
