// Package app wires a workspace into a ready engine: database, migrations
// and configuration.
package app

import (
	"database/sql"
	"fmt"

	"sourceline/internal/config"
	"sourceline/internal/db"
	"sourceline/internal/engine"
	"sourceline/internal/migrate"
)

// Bootstrap opens the workspace database, applies pending migrations and
// loads sourceline.yml (defaults when absent). The caller owns the returned
// connection.
func Bootstrap(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return conn, cfg, nil
}

// NewEngine bootstraps the workspace and returns an engine over it.
func NewEngine(workspace string) (engine.Engine, *sql.DB, error) {
	conn, cfg, err := Bootstrap(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), conn, nil
}
