// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package transportsecurity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists transport security state in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. The special path
// ":memory:" creates an in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path
	if path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and avoids lock
	// contention on file databases.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS hsts (
			host TEXT PRIMARY KEY,
			observed INTEGER NOT NULL,
			expiry INTEGER NOT NULL,
			include_subdomains INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expect_ct (
			host TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			observed INTEGER NOT NULL,
			expiry INTEGER NOT NULL,
			enforce INTEGER NOT NULL,
			report_uri TEXT,
			PRIMARY KEY (host, partition_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hsts_expiry ON hsts(expiry)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadHSTS(ctx context.Context) ([]HSTSEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, observed, expiry, include_subdomains FROM hsts ORDER BY host`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hsts: %w", err)
	}
	defer rows.Close()

	var out []HSTSEntry
	for rows.Next() {
		var (
			e                 HSTSEntry
			observed, expiry  int64
			includeSubdomains bool
		)
		if err := rows.Scan(&e.Host, &observed, &expiry, &includeSubdomains); err != nil {
			return nil, fmt.Errorf("failed to scan hsts row: %w", err)
		}
		e.Observed = time.Unix(0, observed)
		e.Expiry = time.Unix(0, expiry)
		e.IncludeSubdomains = includeSubdomains
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutHSTS(ctx context.Context, e HSTSEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hsts (host, observed, expiry, include_subdomains) VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			observed = excluded.observed,
			expiry = excluded.expiry,
			include_subdomains = excluded.include_subdomains`,
		e.Host, e.Observed.UnixNano(), e.Expiry.UnixNano(), e.IncludeSubdomains)
	if err != nil {
		return fmt.Errorf("failed to store hsts entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteHSTS(ctx context.Context, host string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hsts WHERE host = ?`, host); err != nil {
		return fmt.Errorf("failed to delete hsts entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadExpectCT(ctx context.Context) ([]ExpectCTEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, partition_key, observed, expiry, enforce, report_uri FROM expect_ct ORDER BY host, partition_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expect_ct: %w", err)
	}
	defer rows.Close()

	var out []ExpectCTEntry
	for rows.Next() {
		var (
			e                ExpectCTEntry
			observed, expiry int64
			reportURI        sql.NullString
		)
		if err := rows.Scan(&e.Host, &e.PartitionKey, &observed, &expiry, &e.Enforce, &reportURI); err != nil {
			return nil, fmt.Errorf("failed to scan expect_ct row: %w", err)
		}
		e.Observed = time.Unix(0, observed)
		e.Expiry = time.Unix(0, expiry)
		e.ReportURI = reportURI.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutExpectCT(ctx context.Context, e ExpectCTEntry) error {
	var reportURI sql.NullString
	if e.ReportURI != "" {
		reportURI = sql.NullString{String: e.ReportURI, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expect_ct (host, partition_key, observed, expiry, enforce, report_uri) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, partition_key) DO UPDATE SET
			observed = excluded.observed,
			expiry = excluded.expiry,
			enforce = excluded.enforce,
			report_uri = excluded.report_uri`,
		e.Host, e.PartitionKey, e.Observed.UnixNano(), e.Expiry.UnixNano(), e.Enforce, reportURI)
	if err != nil {
		return fmt.Errorf("failed to store expect_ct entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpectCT(ctx context.Context, host, partitionKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM expect_ct WHERE host = ? AND partition_key = ?`, host, partitionKey); err != nil {
		return fmt.Errorf("failed to delete expect_ct entry: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
