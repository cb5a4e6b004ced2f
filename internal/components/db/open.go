package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects where the application database lives. A remote libsql
// database is used when Url is set, otherwise File is opened as a local
// sqlite database.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// Open opens the database and makes sure the schema exists.
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch {
	case config.Url != "":
		conn, err = openRemote(config)
	case config.File != "":
		conn, err = openFile(config.File)
	default:
		return nil, fmt.Errorf("a database file or url was not specified")
	}
	if err != nil {
		return nil, err
	}

	_, err = conn.ExecContext(ctx, Schema)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return conn, nil
}

// OpenMemory opens a private in-memory database with the schema applied.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// every new connection to :memory: is a different database
	conn.SetMaxOpenConns(1)
	_, err = conn.ExecContext(ctx, Schema)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func openFile(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	conn.SetMaxOpenConns(1)
	_, err = conn.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func openRemote(config Config) (*sql.DB, error) {
	dsn := config.Url
	if config.AuthToken != "" {
		parsed, err := url.Parse(config.Url)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		query := parsed.Query()
		query.Set("authToken", config.AuthToken)
		parsed.RawQuery = query.Encode()
		dsn = parsed.String()
	}
	if !strings.Contains(dsn, "://") {
		return nil, fmt.Errorf("database url %q has no scheme", config.Url)
	}
	return sql.Open("libsql", dsn)
}
