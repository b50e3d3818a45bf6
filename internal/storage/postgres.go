package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Postgres is the primary backend for multi-service deployments where other
// consumers read the same time series.
type Postgres struct {
	store
	dsn string
}

// NewPostgres connects using a lib/pq connection string or URL.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	p := &Postgres{dsn: dsn}
	p.db = db
	p.rebind = rebindDollar
	return p, nil
}

// Migrate applies pending migrations and loads the parameter catalogue.
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, "postgres", p.dsn, "postgres"); err != nil {
		return err
	}
	return p.loadCatalog(ctx)
}

// rebindDollar rewrites ? placeholders to postgres $1..$n notation.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
