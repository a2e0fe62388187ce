// Command import replaces the student roster from a CSV file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"rollcall/internal/config"
	"rollcall/internal/logger"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

func main() {
	file := flag.String("file", "students.csv", "roster CSV with roll_no,name,section columns")
	delimiter := flag.String("delimiter", ",", "field delimiter")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Configure(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	if err := run(cfg, *file, *delimiter); err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("import failed")
	}
}

func run(cfg config.App, path, delimiter string) error {
	sep, size := utf8.DecodeRuneInString(delimiter)
	if size == 0 || size != len(delimiter) {
		return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	students, err := roster.ParseCSV(f, sep)
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	summary, err := roster.NewRepository(db).Replace(ctx, students)
	if err != nil {
		return err
	}
	logger.Info().
		Int("students", len(students)).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("removed", summary.Removed).
		Msg("roster imported")
	return nil
}
