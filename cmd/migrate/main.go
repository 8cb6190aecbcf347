package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/example/staykeeper/internal/config"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "./migrations", "Migrations directory")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}
	if cfg.DBAdapter != "postgres" {
		logrus.Fatalf("migrations only work with PostgreSQL; current adapter: %s", cfg.DBAdapter)
	}

	m, closeDB, err := open(*dir, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("open migrations")
	}
	defer closeDB()

	switch *command {
	case "up":
		if err := run(m, true, *steps); err != nil {
			logrus.WithError(err).Fatal("migration up failed")
		}
		fmt.Println("migrations applied")
	case "down":
		if err := run(m, false, *steps); err != nil {
			logrus.WithError(err).Fatal("migration down failed")
		}
		fmt.Println("migrations rolled back")
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			v, err = 0, nil
		}
		if err != nil {
			logrus.WithError(err).Fatal("failed to get version")
		}
		if dirty {
			fmt.Printf("database is in a dirty state (version %d)\n", v)
			os.Exit(1)
		}
		fmt.Printf("current migration version: %d\n", v)
	case "force":
		if *version == 0 {
			logrus.Fatal("version required for force command (use -version flag)")
		}
		if err := m.Force(int(*version)); err != nil {
			logrus.WithError(err).Fatal("force migration failed")
		}
		fmt.Printf("forced database to version %d\n", *version)
	default:
		logrus.Fatalf("unknown command: %s (supported: up, down, version, force)", *command)
	}
}

func open(migrationsDir, dsn string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, func() { db.Close() }, nil
}

func run(m *migrate.Migrate, up bool, steps int) error {
	if steps > 0 {
		if !up {
			steps = -steps
		}
		if err := m.Steps(steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return nil
	}
	if up {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return nil
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}
