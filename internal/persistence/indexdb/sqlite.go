package indexdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"boiding.ai/internal/sim/authority"
)

const (
	defaultQueue  = 4096
	commitEvery   = 500
	commitMaxWait = 2 * time.Second
	maxQueryLimit = 1000
)

// SQLiteIndex is a write-behind index of team lifecycle events. Writes never
// block the caller: when the writer falls behind, events are dropped and
// counted.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan authority.TeamEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	written   atomic.Uint64
	dropped   atomic.Uint64
	writeFail atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Written       uint64 `json:"written"`
	Dropped       uint64 `json:"dropped"`
	WriteFailures uint64 `json:"write_failures"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan authority.TeamEvent, defaultQueue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS team_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			unix_ms INTEGER NOT NULL,
			team TEXT NOT NULL,
			kind TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_team_events_team ON team_events(team, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordTeamEvent(ev authority.TeamEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the newest events, optionally for one team, newest first.
func (s *SQLiteIndex) Events(ctx context.Context, team string, limit int) ([]authority.TeamEvent, error) {
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	out := []authority.TeamEvent{}
	var err error
	if team == "" {
		err = s.db.SelectContext(ctx, &out,
			`SELECT seq, unix_ms, team, kind, host, port, count FROM team_events ORDER BY id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT seq, unix_ms, team, kind, host, port, count FROM team_events WHERE team = ? ORDER BY id DESC LIMIT ?`, team, limit)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		WriteFailures: s.writeFail.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	const insert = `INSERT INTO team_events(seq,unix_ms,team,kind,host,port,count)
		VALUES(:seq,:unix_ms,:team,:kind,:host,:port,:count)`

	var (
		tx         *sqlx.Tx
		stmt       *sqlx.NamedStmt
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.Beginx()
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		st, err := txx.PrepareNamed(insert)
		if err != nil {
			_ = txx.Rollback()
			return
		}
		tx, stmt = txx, st
		opCount = 0
		lastCommit = time.Now()
	}
	end := func(commit bool) {
		if tx == nil {
			return
		}
		_ = stmt.Close()
		if commit {
			if err := tx.Commit(); err != nil {
				s.writeFail.Add(uint64(opCount))
			} else {
				s.written.Add(uint64(opCount))
			}
		} else {
			_ = tx.Rollback()
			s.writeFail.Add(uint64(opCount))
		}
		tx, stmt = nil, nil
		opCount = 0
		lastCommit = time.Now()
	}

	for ev := range s.ch {
		begin()
		if tx == nil {
			s.writeFail.Add(1)
			continue
		}
		if _, err := stmt.Exec(ev); err != nil {
			s.writeFail.Add(1)
			end(false)
			continue
		}
		opCount++
		// Commit when the queue goes idle so readers see events promptly.
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			end(true)
		}
	}
	end(true)
}
