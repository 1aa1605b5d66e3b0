// Package db opens the libsql database and applies the embedded goose migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Options selects an embedded file or a remote libsql server.
type Options struct {
	Path        string // embedded database file
	URL         string // remote libsql url; takes precedence over Path
	AuthToken   string
	JournalMode string
	SyncMode    string
	BusyTimeout int // milliseconds
}

// Open connects, verifies connectivity, applies pragmas (embedded only) and runs
// all pending migrations.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*sql.DB, error) {
	logger = logger.With().Str("component", "db").Logger()

	dsn, embedded, err := buildDSN(opts, logger)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if embedded {
		if err := configurePragmas(ctx, db, opts); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildDSN(opts Options, logger zerolog.Logger) (dsn string, embedded bool, err error) {
	if opts.URL != "" {
		if opts.AuthToken == "" {
			logger.Info().Str("url", opts.URL).Msg("connecting to remote libsql")
			return opts.URL, false, nil
		}
		u, perr := url.Parse(opts.URL)
		if perr != nil {
			return "", false, fmt.Errorf("invalid database url: %w", perr)
		}
		q := u.Query()
		q.Set("authToken", opts.AuthToken)
		u.RawQuery = q.Encode()
		logger.Info().Str("host", u.Host).Msg("connecting to remote libsql")
		return u.String(), false, nil
	}

	if opts.Path == "" {
		return "", false, fmt.Errorf("database path is empty")
	}
	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}
	if _, statErr := os.Stat(opts.Path); os.IsNotExist(statErr) {
		logger.Info().Str("path", opts.Path).Msg("database not found, creating a new one")
	}
	return "file:" + opts.Path, true, nil
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

func configurePragmas(ctx context.Context, db *sql.DB, opts Options) error {
	var stmts []string
	if opts.JournalMode != "" {
		stmts = append(stmts, "PRAGMA journal_mode = "+strings.ToUpper(opts.JournalMode))
	}
	if opts.SyncMode != "" {
		stmts = append(stmts, "PRAGMA synchronous = "+strings.ToUpper(opts.SyncMode))
	}
	if opts.BusyTimeout > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout))
	}
	stmts = append(stmts, "PRAGMA foreign_keys = ON")

	for _, stmt := range stmts {
		// Some pragmas answer with a row; drain it either way.
		rows, err := db.QueryContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
		for rows.Next() {
		}
		rows.Close()
	}
	return nil
}

// Migrate runs every pending embedded migration.
func Migrate(db *sql.DB, logger zerolog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct{ logger zerolog.Logger }

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
