// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb keeps the ledger of acquisition runs in the MySQL run
// database.
package rundb // import "github.com/go-daq/sensoray/rundb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// Run is one row of the runs ledger.
type Run struct {
	ID    int64 // run number
	DevID uint8 // board that took the run
	Start time.Time
	Stop  time.Time // zero while the run is open
	Scans uint64    // scans archived during the run
}

// DB exposes convenience methods to book-keep acquisition runs in the
// run database.
type DB struct {
	db   *sql.DB
	name string // name of the run database
}

// Open opens a connection to the run database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("rundb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// NewRun opens a run for the given board and allocates its number.
func (db *DB) NewRun(ctx context.Context, devID uint8) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (dev_id, tstart, scans) VALUES (?, ?, 0)",
		devID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("rundb: could not insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rundb: could not get run number: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rundb: context error while opening run: %w", err)
	}

	return id, nil
}

// CloseRun stamps the stop time and the scan total of run id.
func (db *DB) CloseRun(ctx context.Context, id int64, scans uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET tstop=?, scans=? WHERE id=?",
		time.Now().UTC(), scans, id,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not close run %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rundb: could not close run %d: %w", id, err)
	}
	if n != 1 {
		return fmt.Errorf("rundb: unknown run %d", id)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rundb: context error while closing run %d: %w", id, err)
	}

	return nil
}

// RecordEnv stores one environment probe in the env table.
func (db *DB) RecordEnv(ctx context.Context, sensor string, temp float64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO env (tstamp, sensor, temp) VALUES (?, ?, ?)",
		time.Now().UTC(), sensor, temp,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not record environment probe: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rundb: context error while recording environment probe: %w", err)
	}

	return nil
}

// LastRun returns the most recent run.
func (db *DB) LastRun(ctx context.Context) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run Run
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT id, dev_id, tstart, tstop, scans FROM runs ORDER BY id DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("rundb: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = scanRun(rows, &run)
		if err != nil {
			return run, fmt.Errorf("rundb: could not get last run: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("rundb: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("rundb: context error while retrieving last run: %w", err)
	}

	return run, nil
}

// Runs returns the runs started since the given time, oldest first.
func (db *DB) Runs(ctx context.Context, since time.Time) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var runs []Run
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT id, dev_id, tstart, tstop, scans FROM runs WHERE tstart >= ? ORDER BY id",
		since.UTC(),
	)
	if err != nil {
		return runs, fmt.Errorf("rundb: could not query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var run Run
		err = scanRun(rows, &run)
		if err != nil {
			return runs, fmt.Errorf("rundb: could not scan run row %d: %w", len(runs), err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("rundb: could not scan db for runs: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("rundb: context error while retrieving runs: %w", err)
	}

	return runs, nil
}

func scanRun(rows *sql.Rows, run *Run) error {
	var stop sql.NullTime
	err := rows.Scan(&run.ID, &run.DevID, &run.Start, &stop, &run.Scans)
	if err != nil {
		return err
	}
	if stop.Valid {
		run.Stop = stop.Time
	}
	return nil
}
