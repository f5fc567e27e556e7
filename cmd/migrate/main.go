// Command migrate applies the order ledger schema and reports the target database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"orders-service/internal/config"
	"orders-service/internal/database"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbConfig := config.LoadDatabase()
	logger := config.NewLogger(config.LoggerConfig{Level: "info", Format: "console"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer pool.Close()

	var dbName string
	if err := pool.QueryRow(ctx, "SELECT current_database()").Scan(&dbName); err != nil {
		return fmt.Errorf("failed to query current database: %w", err)
	}

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	fmt.Printf("Schema applied to database: %s\n", dbName)
	return nil
}
