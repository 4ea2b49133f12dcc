// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-sql is an interactive shell for the s626 run database.
//
// Usage: s626-sql [OPTIONS]
//
// Example:
//
//	$> s626-sql
//	s626-sql> last
//	run=42 dev=001 start=2023-06-01T10:32:07Z stop=2023-06-01T11:02:41Z scans=1830400
//	s626-sql> runs 24h
//	run=41 dev=001 start=2023-06-01T08:11:00Z stop=2023-06-01T08:41:12Z scans=1810233
//	run=42 dev=001 start=2023-06-01T10:32:07Z stop=2023-06-01T11:02:41Z scans=1830400
//	s626-sql> select id, scans from runs where scans > 1820000;
//	[42 1830400]
//	s626-sql> quit
package main // import "github.com/go-daq/sensoray/cmd/s626-sql"

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-daq/sensoray/rundb"
	_ "github.com/go-sql-driver/mysql"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("s626-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "s626", "name of the run database")
	)

	flag.Parse()

	db, err := rundb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open run database %q: %+v", *dbname, err)
	}
	defer db.Close()

	err = repl(db)
	if err != nil {
		log.Fatalf("could not run shell: %+v", err)
	}
}

func repl(db *rundb.DB) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)

	history := filepath.Join(os.TempDir(), ".s626-sql-history")
	if f, err := os.Open(history); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			log.Printf("could not create history file %q: %+v", history, err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		o, err := term.Prompt("s626-sql> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read prompt line: %w", err)
		}

		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		term.AppendHistory(o)

		switch {
		case o == "quit", o == "exit":
			return nil
		case o == "help":
			usage()
		case o == "last":
			err = cmdLast(db)
		case strings.HasPrefix(o, "runs"):
			err = cmdRuns(db, strings.TrimSpace(strings.TrimPrefix(o, "runs")))
		case strings.HasPrefix(o, "select"):
			err = cmdQuery(db, o)
		default:
			log.Printf("unknown command %q (try \"help\")", o)
			continue
		}
		if err != nil {
			log.Printf("%+v", err)
		}
	}
}

func usage() {
	fmt.Print(`commands:
 help          display this help
 last          display the most recent run
 runs [AGE]    display runs younger than AGE (e.g. 24h; all runs if absent)
 select ...    run a raw SQL query against the run database
 quit          quit s626-sql
`)
}

func cmdLast(db *rundb.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := db.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch last run: %w", err)
	}
	display(run)
	return nil
}

func cmdRuns(db *rundb.DB, age string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var since time.Time
	if age != "" {
		d, err := time.ParseDuration(age)
		if err != nil {
			return fmt.Errorf("could not parse age %q: %w", age, err)
		}
		since = time.Now().Add(-d)
	}

	runs, err := db.Runs(ctx, since)
	if err != nil {
		return fmt.Errorf("could not fetch runs: %w", err)
	}
	for _, run := range runs {
		display(run)
	}
	return nil
}

func cmdQuery(db *rundb.DB, query string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("could not run query %q: %w", query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("could not extract columns: %w", err)
	}
	var (
		vals = make([]sql.RawBytes, len(cols))
		args = make([]interface{}, len(cols))
	)
	for i := range vals {
		args[i] = &vals[i]
	}

	for rows.Next() {
		err = rows.Scan(args...)
		if err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = string(v)
		}
		fmt.Printf("[%s]\n", strings.Join(out, " "))
	}
	err = rows.Err()
	if err != nil {
		return fmt.Errorf("could not iterate over rows: %w", err)
	}
	return ctx.Err()
}

func display(run rundb.Run) {
	stop := "<open>"
	if !run.Stop.IsZero() {
		stop = run.Stop.UTC().Format(time.RFC3339)
	}
	fmt.Printf("run=%d dev=%03d start=%s stop=%s scans=%d\n",
		run.ID, run.DevID,
		run.Start.UTC().Format(time.RFC3339),
		stop, run.Scans,
	)
}
