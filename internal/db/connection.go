package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"

	"github.com/nestauk/asf-core-data/internal/config"
)

// Connection holds the database connection
type Connection struct {
	DB *sql.DB
}

// DSN returns databaseURL, or a key/value DSN built from the PG* variables
// when it is empty
func DSN(databaseURL string) string {
	if databaseURL != "" {
		return databaseURL
	}

	host := config.GetEnv("PGHOST", "localhost")
	port := config.GetEnv("PGPORT", "5432")
	user := config.GetEnv("PGUSER", "hplink")
	password := config.GetEnv("PGPASSWORD", "password")
	dbname := config.GetEnv("PGDATABASE", "hplink")
	sslmode := config.GetEnv("PGSSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// NewConnection opens and pings a Postgres connection
func NewConnection(ctx context.Context, databaseURL string) (*Connection, error) {
	db, err := sql.Open("postgres", DSN(databaseURL))
	if err != nil {
		return nil, eris.Wrap(err, "db: open postgres")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "db: ping postgres")
	}

	// Set connection pool settings
	db.SetMaxOpenConns(config.GetEnvInt("PG_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(config.GetEnvInt("PG_MAX_IDLE_CONNS", 10))

	return &Connection{DB: db}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
