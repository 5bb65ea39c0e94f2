package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/lgulliver/tusgate/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML configuration file")
		up         = flag.Bool("up", false, "Run pending migrations")
		down       = flag.Bool("down", false, "Roll back the last migration")
		status     = flag.Bool("status", false, "List pending migrations")
	)
	flag.Parse()

	if !*up && !*down && !*status {
		fmt.Printf("Usage: %s [-config file] [-up | -down | -status]\n", os.Args[0])
		fmt.Println("  -up      Run pending migrations")
		fmt.Println("  -down    Roll back the last migration")
		fmt.Println("  -status  List pending migrations")
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.SetupLogging()

	if cfg.Database.Driver != "postgres" {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("SQL migrations target PostgreSQL; other drivers are migrated on server start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Create migrator
	migrator, err := migrate.Open(ctx, &cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer migrator.Close()

	switch {
	case *status:
		pending, err := migrator.Pending(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list migrations")
		}
		for _, migration := range pending {
			fmt.Printf("pending %03d %s\n", migration.Version, migration.Name)
		}
		if len(pending) == 0 {
			fmt.Println("database is up to date")
		}
	case *up:
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Msg("Migrations completed successfully")
	case *down:
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to roll back migration")
		}
		log.Info().Msg("Rollback completed successfully")
	}
}
