// Package history keeps every registration attempt in a sqlite (or remote
// libsql) database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/config"
	"turmasniper/internal/registration"
	"turmasniper/pkg/migrations"

	_ "embed"
)

//go:embed schema.sql
var Schema string

const (
	report_store_record = "store.record"
	report_store_list   = "store.list"
)

type Store struct {
	db  *sql.DB
	tel telemetry.API
}

// Open opens the database described by `cfg` and applies the schema.
func Open(cfg config.History, tel telemetry.API) (Store, error) {
	var db *sql.DB
	var err error
	if cfg.Url != "" {
		db, err = migrations.OpenRemoteDB(cfg.Url, cfg.AuthToken)
	} else {
		db, err = migrations.OpenDB(cfg.File)
	}
	if err != nil {
		return Store{}, err
	}

	err = migrations.Migrate(db, Schema)
	if err != nil {
		db.Close()
		return Store{}, err
	}
	return NewStore(db, tel), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, tel telemetry.API) Store {
	return Store{db: db, tel: telemetry.NewScopedAPI("history", tel)}
}

func (s Store) Close() error {
	return s.db.Close()
}

func (s Store) Record(ctx context.Context, attempt registration.Attempt) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into Attempt (subject, zone, label, outcome, url, attempted_at) values (?, ?, ?, ?, ?, ?)`,
		attempt.Subject,
		attempt.Zone,
		attempt.Label,
		attempt.Outcome.String(),
		attempt.Url,
		attempt.At.UnixMilli(),
	)
	if err != nil {
		s.tel.ReportBroken(report_store_record, err)
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// List returns the most recent attempts first, at most `limit` of them.
func (s Store) List(ctx context.Context, limit int) ([]registration.Attempt, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select subject, zone, label, outcome, url, attempted_at from Attempt
		order by attempted_at desc, id desc
		limit ?`,
		limit,
	)
	if err != nil {
		s.tel.ReportBroken(report_store_list, err)
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []registration.Attempt
	for rows.Next() {
		var attempt registration.Attempt
		var outcome string
		var at int64
		err = rows.Scan(&attempt.Subject, &attempt.Zone, &attempt.Label, &outcome, &attempt.Url, &at)
		if err != nil {
			return nil, fmt.Errorf("list attempts: %w", err)
		}
		attempt.Outcome, err = registration.ParseOutcome(outcome)
		if err != nil {
			s.tel.ReportWarning(report_store_list, err)
		}
		attempt.At = time.UnixMilli(at)
		out = append(out, attempt)
	}
	return out, rows.Err()
}

// Summary counts the attempts of every outcome per subject and zone.
type Summary struct {
	Subject  string
	Zone     string
	Outcomes map[registration.Outcome]int
}

func (s Store) Summarize(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select subject, zone, outcome, count(*) from Attempt
		group by subject, zone, outcome
		order by subject, zone`,
	)
	if err != nil {
		s.tel.ReportBroken(report_store_list, err)
		return nil, fmt.Errorf("summarize attempts: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var subject, zone, outcomeText string
		var count int
		err = rows.Scan(&subject, &zone, &outcomeText, &count)
		if err != nil {
			return nil, fmt.Errorf("summarize attempts: %w", err)
		}
		outcome, err := registration.ParseOutcome(outcomeText)
		if err != nil {
			s.tel.ReportWarning(report_store_list, err)
			continue
		}
		if len(out) == 0 || out[len(out)-1].Subject != subject || out[len(out)-1].Zone != zone {
			out = append(out, Summary{Subject: subject, Zone: zone, Outcomes: map[registration.Outcome]int{}})
		}
		out[len(out)-1].Outcomes[outcome] = count
	}
	return out, rows.Err()
}
