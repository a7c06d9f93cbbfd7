package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/migrations"
)

type migrateContext struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

type UpCmd struct {
	Steps int `help:"Apply at most this many migrations; 0 applies all." default:"0"`
}

func (c *UpCmd) Run(mc *migrateContext) error {
	var err error
	if c.Steps > 0 {
		err = mc.m.Steps(c.Steps)
	} else {
		err = mc.m.Up()
	}
	return ignoreNoChange(err)
}

type DownCmd struct {
	Steps int  `help:"Number of migrations to roll back." default:"1"`
	All   bool `help:"Roll back every migration."`
}

func (c *DownCmd) Run(mc *migrateContext) error {
	if c.All {
		return ignoreNoChange(mc.m.Down())
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	return ignoreNoChange(mc.m.Steps(-c.Steps))
}

type ForceCmd struct {
	Version int `arg:"" help:"Version to mark as applied."`
}

func (c *ForceCmd) Run(mc *migrateContext) error {
	return mc.m.Force(c.Version)
}

type VersionCmd struct{}

func (c *VersionCmd) Run(mc *migrateContext) error {
	version, dirty, err := mc.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("no migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("version %d (dirty=%t)\n", version, dirty)
	return nil
}

var CLI struct {
	DatabaseURL string `name:"database-url" help:"Postgres connection string." env:"DATABASE_URL" required:""`
	LogLevel    string `name:"log-level" help:"Log level." env:"LOG_LEVEL" default:"info"`

	Up      UpCmd      `cmd:"" help:"Apply pending migrations." default:"1"`
	Down    DownCmd    `cmd:"" help:"Roll back migrations."`
	Force   ForceCmd   `cmd:"" help:"Force the schema version after a failed migration."`
	Version VersionCmd `cmd:"" help:"Print the current schema version."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("booking-migrate"),
		kong.Description("Schema migrations for booking-service"),
		kong.UsageOnError(),
	)
	logger := runtime.NewLogger("booking-migrate", CLI.LogLevel)

	m, closeDB, err := open(CLI.DatabaseURL)
	if err != nil {
		logger.Error("migrator init failed", "err", err)
		os.Exit(1)
	}
	defer closeDB()

	if err := kctx.Run(&migrateContext{m: m, logger: logger}); err != nil {
		logger.Error("migration failed", "command", kctx.Command(), "err", err)
		closeDB()
		os.Exit(1)
	}
	logger.Info("migration complete", "command", kctx.Command())
}

func open(databaseURL string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, func() { _, _ = m.Close() }, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
