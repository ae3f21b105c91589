package engine

import (
	"database/sql"
	"log"
	"time"

	"sourceline/internal/config"
	"sourceline/internal/events"
	"sourceline/internal/repo"
)

// Invalidator receives cache-invalidation hooks fired after bid or RFQ
// mutations.
type Invalidator interface {
	Invalidate(rfqID string)
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog Catalog
	Cache   Invalidator
	Logger  *log.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) invalidate(rfqID string) {
	if e.Cache != nil {
		e.Cache.Invalidate(rfqID)
	}
}

// approver returns the acting identity for award decisions, falling back to
// the configured approver when internal paths pass none.
func (e Engine) approver(actorID string) string {
	if actorID != "" {
		return actorID
	}
	if e.Config != nil && e.Config.Awards.FallbackApprover != "" {
		return e.Config.Awards.FallbackApprover
	}
	return "system"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
