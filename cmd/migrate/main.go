package main

import (
	"context"
	"flag"
	"log"
	"os"

	"marketplace-checkout/internal/config"
	"marketplace-checkout/internal/db"
	"marketplace-checkout/internal/migrate"
)

// Manages the session table schema. Only needed for SESSION_BACKEND=postgres;
// the api binary also migrates up on startup.
func main() {
	down := flag.Bool("down", false, "revert the most recent migration")
	flag.Parse()

	logger := log.New(os.Stdout, "[migrate] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	if _, err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatalf("env: %v", err)
	}
	cfg := config.FromEnv()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if *down {
		err = migrate.Rollback(ctx, pool)
	} else {
		err = migrate.Apply(ctx, pool)
	}
	if err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	version, dirty, ok, err := migrate.Version(ctx, pool)
	switch {
	case err != nil:
		logger.Printf("migrations applied, version unknown: %v", err)
	case !ok:
		logger.Println("schema is empty")
	default:
		logger.Printf("schema at version %d (dirty=%t)", version, dirty)
	}
}
