/*
main.go - Application entry point

PURPOSE:
  Command-line entry of the work-time engine. Wires configuration, stores,
  the overtime ledger and the timesheet service, then runs one of:

COMMANDS:
  worktime serve                        HTTP API + background scheduler
  worktime sweep                        One scheduler pass (expire + close yesterday)
  worktime reconcile --employee E --from D --to D [--post]
                                        Print a reconciled period (optionally post it)
  worktime import-holidays FILE.xlsx [--company C]
                                        Load holidays from a spreadsheet

STARTUP SEQUENCE:
  1. Load configuration (.env + environment, see config/config.go)
  2. Initialize SQLite store (schedules, punches, calendars, postings)
  3. Initialize movement store (SQLite, or PostgreSQL when DB_DRIVER=postgres)
  4. Create ledger (+ Kafka publisher when KAFKA_BROKERS is set)
  5. Run the command

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close stores and the publisher

EXAMPLES:
  # Run with file database
  worktime serve --db ./data/worktime.db

  # Run with in-memory database
  worktime serve --db :memory:

  # March timesheet of one employee
  worktime reconcile --employee emp-1 --from 2025-03-01 --to 2025-03-31

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/worktime-engine/api"
	"github.com/warp/worktime-engine/config"
	"github.com/warp/worktime-engine/events/kafka"
	"github.com/warp/worktime-engine/factory"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/overtime"
	"github.com/warp/worktime-engine/store/postgres"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/timesheet"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sqlite.Store
	ledger    *overtime.Ledger
	timesheet *timesheet.Service
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: cfg.NewLogger()}
	slog.SetDefault(a.logger)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })

	var movements overtime.Store = store
	if cfg.Database.Driver == "postgres" {
		pg, err := postgres.New(ctx, cfg.Database.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		movements = pg
		a.closers = append(a.closers, pg.Close)
	}

	opts := []overtime.Option{
		overtime.WithLogger(a.logger),
		overtime.WithLocation(cfg.App.Location),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts = append(opts, overtime.WithPublisher(pub))
		a.closers = append(a.closers, func() { pub.Close() })
		a.logger.Info("publishing ledger events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	a.ledger = overtime.NewLedger(movements, opts...)

	a.timesheet = &timesheet.Service{
		Schedules: store,
		Events:    store,
		Holidays:  store.Calendar(cfg.App.CompanyID),
		Absences:  store,
		Ledger:    a.ledger,
		Postings:  store,
		Location:  cfg.App.Location,
		Logger:    a.logger,
	}
	return a, nil
}

// close runs closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) newScheduler() *api.SweepScheduler {
	s := api.NewSweepScheduler(a.store, a.ledger, a.timesheet)
	s.CheckInterval = a.cfg.Scheduler.Interval
	s.Enabled = a.cfg.Scheduler.Enabled
	s.Location = a.cfg.App.Location
	s.Logger = a.logger
	return s
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "worktime",
		Short:         "Work-time reconciliation and overtime bank",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			cfg = c
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(&cfg),
		newSweepCmd(&cfg),
		newReconcileCmd(&cfg),
		newImportHolidaysCmd(&cfg),
	)
	return root
}

func newServeCmd(cfg **config.Config) *cobra.Command {
	var (
		port   int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if cmd.Flags().Changed("port") {
				c.App.Port = port
			}
			if cmd.Flags().Changed("db") {
				c.Database.Path = dbPath
			}

			a, err := newApp(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer a.close()

			handler := api.NewHandler(a.store, a.ledger, a.timesheet)
			handler.Location = c.App.Location
			handler.LookaheadDays = c.App.ExpiringLookaheadDays
			handler.Logger = a.logger
			handler.Scheduler = a.newScheduler()

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", c.App.Port),
				Handler:      api.NewRouter(handler, c.App.CORSOrigins),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			handler.Scheduler.Start()

			serverErr := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "addr", server.Addr, "db", c.Database.Path, "driver", c.Database.Driver)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-serverErr:
				handler.Scheduler.Stop()
				return fmt.Errorf("server failed: %w", err)
			}

			a.logger.Info("shutting down server")
			handler.Scheduler.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			a.logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port (overrides PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "worktime.db", "SQLite database path, \":memory:\" for in-memory (overrides DB_PATH)")
	return cmd
}

func newSweepCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue overtime credits and close yesterday once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.newScheduler().RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "employees=%d expirations=%d expired=%s posted_days=%d status=%s\n",
				run.Employees, run.Expirations, run.ExpiredMinutes, run.PostedDays, run.Status)
			return err
		},
	}
}

func newReconcileCmd(cfg **config.Config) *cobra.Command {
	var (
		employeeID string
		from, to   string
		post       bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile an employee's period and print summaries and totals as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := generic.ParseDate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := generic.ParseDate(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			period, err := generic.NewPeriod(start, end)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			summaries, totals, err := a.timesheet.Range(ctx, employeeID, period)
			if err != nil {
				return err
			}

			if post {
				sched, err := a.store.ScheduleFor(ctx, employeeID)
				if err != nil {
					return err
				}
				for _, s := range summaries {
					if _, err := a.timesheet.Post(ctx, *sched, s); err != nil {
						return err
					}
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"days": summaries, "totals": totals})
		},
	}

	cmd.Flags().StringVar(&employeeID, "employee", "", "employee ID")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&post, "post", false, "post each day to the overtime bank")
	cmd.MarkFlagRequired("employee")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newImportHolidaysCmd(cfg **config.Config) *cobra.Command {
	var companyID string

	cmd := &cobra.Command{
		Use:   "import-holidays FILE.xlsx",
		Short: "Import holidays from every sheet of a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			imp, err := factory.ParseHolidaysXLSX(f, companyID)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.close()

			for _, h := range imp.Holidays {
				if err := a.store.SaveHoliday(cmd.Context(), h); err != nil {
					return fmt.Errorf("save holiday %s %s: %w", h.Date, h.Name, err)
				}
			}
			for _, s := range imp.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %s\n", s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d holidays\n", len(imp.Holidays))
			return nil
		},
	}

	cmd.Flags().StringVar(&companyID, "company", "", "company ID (empty = global holidays)")
	return cmd
}
