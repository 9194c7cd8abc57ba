package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BradenHooton/carelink/internal/config"
	"github.com/BradenHooton/carelink/internal/database"
	"github.com/BradenHooton/carelink/internal/models"
	"github.com/BradenHooton/carelink/internal/repositories"
	"github.com/BradenHooton/carelink/internal/services"
	"github.com/BradenHooton/carelink/migrations"
	pkgauth "github.com/BradenHooton/carelink/pkg/auth"
	"github.com/urfave/cli/v3"
)

// adminRoles are the roles carectl may create. Public signup covers the rest.
var adminRoles = []string{models.RoleStaff, models.RoleAdmin}

// runtime is the configuration and database handle shared by commands.
type runtime struct {
	cfg    *config.Config
	db     *database.DB
	logger *slog.Logger
}

func openRuntime(cmd *cli.Command) (*runtime, error) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &runtime{cfg: cfg, db: db, logger: logger}, nil
}

func (rt *runtime) Close() {
	rt.db.Close()
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(fn func(ctx context.Context, cmd *cli.Command, rt *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, cmd, rt)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
					defer cancel()
					return database.Migrate(ctx, rt.db.Pool, migrations.FS, rt.logger)
				}),
			},
			{
				Name:  "status",
				Usage: "show applied and pending migrations (run with -v)",
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					return database.MigrationStatus(ctx, rt.db.Pool, migrations.FS, rt.logger)
				}),
			},
		},
	}
}

func otpCommand() *cli.Command {
	return &cli.Command{
		Name:  "otp",
		Usage: "one-time code maintenance",
		Commands: []*cli.Command{
			{
				Name:  "cleanup",
				Usage: "delete expired codes and used codes past retention",
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					otp := services.NewOTPService(
						repositories.NewOTPRepository(rt.db),
						services.DisabledEmailService{},
						rt.logger,
						rt.cfg.OTP,
						rt.cfg.Email.AppName,
					)

					deleted, err := otp.Cleanup(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().Writer, "deleted %d stale codes\n", deleted)
					return nil
				}),
			},
		},
	}
}

func adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "account administration",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a staff or admin account with a verified email",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{
						Name:    "password",
						Usage:   "account password; prefer the environment variable",
						Sources: cli.EnvVars("CARECTL_PASSWORD"),
					},
					&cli.StringFlag{Name: "role", Value: models.RoleStaff, Usage: "staff or admin"},
				},
				Before: validateCreateFlags,
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					if err := pkgauth.SetBcryptCost(rt.cfg.Auth.BcryptCost); err != nil {
						return err
					}

					users := services.NewUserService(repositories.NewUserRepository(rt.db), rt.logger)
					user, err := users.CreateUser(ctx, cmd.String("email"), cmd.String("name"), cmd.String("password"), cmd.String("role"))
					if err != nil {
						return fmt.Errorf("create account: %w", err)
					}
					fmt.Fprintf(cmd.Root().Writer, "created %s %s (%s)\n", user.Role, user.Email, user.ID)
					return nil
				}),
			},
		},
	}
}

// validateCreateFlags rejects bad input before any connection is opened.
func validateCreateFlags(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if !slices.Contains(adminRoles, cmd.String("role")) {
		return ctx, fmt.Errorf("--role must be one of %v", adminRoles)
	}
	if cmd.String("password") == "" {
		return ctx, fmt.Errorf("a password is required (--password or CARECTL_PASSWORD)")
	}
	if err := pkgauth.ValidatePassword(cmd.String("password")); err != nil {
		var pwErr *pkgauth.PasswordValidationError
		if errors.As(err, &pwErr) {
			return ctx, fmt.Errorf("password does not meet requirements: %s", strings.Join(pwErr.Errors, "; "))
		}
		return ctx, err
	}
	return ctx, nil
}
