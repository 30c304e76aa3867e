package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medisecure/clinic/internal/config"
	"github.com/medisecure/clinic/internal/domain/identity"
	"github.com/medisecure/clinic/internal/domain/scheduling"
	"github.com/medisecure/clinic/internal/platform/db"
	"github.com/medisecure/clinic/internal/platform/jobs"
	"github.com/medisecure/clinic/internal/platform/messaging"
	"github.com/medisecure/clinic/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic scheduling and patient eligibility API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads config and connects, for the one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		Long: "Create a staff account. The password is read from --password or, " +
			"if that is empty, from the CLINIC_STAFF_PASSWORD environment variable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := identity.NewStaffUser{}
			req.Email, _ = cmd.Flags().GetString("email")
			req.FirstName, _ = cmd.Flags().GetString("first-name")
			req.LastName, _ = cmd.Flags().GetString("last-name")
			req.Role, _ = cmd.Flags().GetString("role")
			req.Password, _ = cmd.Flags().GetString("password")
			if req.Password == "" {
				req.Password = os.Getenv("CLINIC_STAFF_PASSWORD")
			}

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env)
			svc := identity.NewService(identity.NewPatientRepoPG(pool), identity.NewUserRepoPG(pool),
				nil, messaging.NopPublisher{Logger: logger}, logger, nil)
			user, err := svc.CreateStaffUser(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s account %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("first-name", "", "First name")
	createCmd.Flags().String("last-name", "", "Last name")
	createCmd.Flags().String("role", "receptionist", "admin, doctor, nurse or receptionist")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("first-name")
	_ = createCmd.MarkFlagRequired("last-name")

	cmd.AddCommand(createCmd)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run background sweeps once",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "missed",
		Short: "Mark overdue scheduled and confirmed appointments as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env)
			events := newPublisher(cfg, logger)
			defer events.Close()

			svc := scheduling.NewService(identity.NewPatientRepoPG(pool), scheduling.NewAppointmentRepoPG(pool),
				events, logger, schedulingConfig(cfg))
			n := jobs.RunMissedSweep(ctx, svc, logger)
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d appointment(s) missed.\n", n)
			return nil
		},
	})
	return cmd
}

type eventPublisher interface {
	scheduling.EventPublisher
	Close() error
}

// newPublisher connects to RabbitMQ when configured. A broker that cannot be
// reached is logged and events are dropped rather than failing startup.
func newPublisher(cfg *config.Config, logger zerolog.Logger) eventPublisher {
	if cfg.RabbitMQURL == "" {
		return messaging.NopPublisher{Logger: logger}
	}
	p, err := messaging.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, domain events will be dropped")
		return messaging.NopPublisher{Logger: logger}
	}
	return p
}

func schedulingConfig(cfg *config.Config) scheduling.ServiceConfig {
	return scheduling.ServiceConfig{
		Slots:        cfg.SlotConfig(),
		SnapshotPage: cfg.DoctorSnapshotLimit,
		MissedGrace:  cfg.MissedGrace(),
	}
}
