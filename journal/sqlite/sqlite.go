package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jirevwe/jerry/journal"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	createEvents = `create table if not exists events (
			id TEXT not null primary key,
			kind TEXT not null,
			job_id TEXT not null default '',
			worker INTEGER not null,
			executor INTEGER not null,
			payload BLOB not null,
			created_at TEXT not null default (strftime('%Y-%m-%dT%H:%M:%fZ'))
		) strict;`

	createEventsJobIndex = `create index if not exists idx_events_job_id on events (job_id);`
)

type Sqlite struct {
	logger *slog.Logger
	db     *sqlx.DB
}

var _ journal.Store = (*Sqlite)(nil)

func NewSqlite(dbPath string, logger *slog.Logger) (*Sqlite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, errors.Wrapf(err, "opening journal %s", dbPath)
	}

	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA journal_size_limit = 67108864;")
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "setting journal_size_limit")
	}

	_, err = db.Exec("PRAGMA cache_size = 2000;")
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "setting cache_size")
	}

	s := &Sqlite{db: db, logger: logger}

	ctx := context.Background()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, createEvents); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, createEventsJobIndex); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating journal schema")
	}

	s.logger.Info("journal is ready", "path", dbPath)
	return s, nil
}

// Append writes one event, keeping the whole event as a msgpack payload
func (s *Sqlite) Append(ctx context.Context, e *journal.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		writeQuery := `insert into events (id, kind, job_id, worker, executor, payload) values ($1, $2, $3, $4, $5, $6)`
		_, innerErr := tx.ExecContext(ctx, writeQuery, e.Id, string(e.Kind), e.JobId, e.Worker, e.Executor, payload)
		return innerErr
	})
}

type eventRow struct {
	Id      string `db:"id"`
	Payload []byte `db:"payload"`
}

// Events returns the events of a job, oldest first
func (s *Sqlite) Events(ctx context.Context, jobID string) ([]journal.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `select id, payload from events where job_id = $1 order by id`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing events of job %s", jobID)
	}

	events := make([]journal.Event, 0, len(rows))
	for _, row := range rows {
		e, err := journal.UnmarshalEvent(row.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "event %s", row.Id)
		}
		events = append(events, *e)
	}

	return events, nil
}

// Status returns the furthest status a job reached, StatusUnknown if the
// journal has never seen it
func (s *Sqlite) Status(ctx context.Context, jobID string) (journal.Status, error) {
	var kinds []string
	err := s.db.SelectContext(ctx, &kinds, `select kind from events where job_id = $1`, jobID)
	if err != nil {
		return journal.StatusUnknown, errors.Wrapf(err, "reading status of job %s", jobID)
	}

	status := journal.StatusUnknown
	for _, k := range kinds {
		status = journal.Furthest(status, journal.Kind(k).Status())
	}

	return status, nil
}

type kindCount struct {
	Kind  string `db:"kind"`
	Count int    `db:"n"`
}

// Counts returns the number of events per kind
func (s *Sqlite) Counts(ctx context.Context) (map[journal.Kind]int, error) {
	var rows []kindCount
	err := s.db.SelectContext(ctx, &rows, `select kind, count(*) as n from events group by kind`)
	if err != nil {
		return nil, errors.Wrap(err, "counting events")
	}

	counts := make(map[journal.Kind]int, len(rows))
	for _, row := range rows {
		counts[journal.Kind(row.Kind)] = row.Count
	}

	return counts, nil
}

// Truncate deletes every event
func (s *Sqlite) Truncate(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from events`)
		return err
	})
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) inTx(ctx context.Context, cb func(*sqlx.Tx) error) (err error) {
	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return errors.Wrap(beginErr, "cannot start tx")
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = rollback(tx, nil)
			panic(rec)
		}
	}()

	if err = cb(tx); err != nil {
		return rollback(tx, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return errors.Wrap(commitErr, "cannot commit tx")
	}

	return nil
}

func rollback(tx *sqlx.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		if err == nil {
			return errors.Wrap(rollbackErr, "cannot roll back tx")
		}
		return errors.Wrapf(err, "cannot roll back tx after error (rollback error: %v)", rollbackErr)
	}
	return err
}
