// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb registers an in-memory SQL driver that serves
// scripted rows and results, for tests that exercise database/sql
// code without a live server.
package fakedb // import "github.com/go-daq/sensoray/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

func init() {
	sql.Register("fakedb", &Driver{})
}

var script struct {
	mu     sync.Mutex
	rows   Rows
	result Result
}

// Run serves rows to every query and result to every exec statement
// issued from f.
func Run(ctx context.Context, rows Rows, result Result, f func(ctx context.Context) error) error {
	script.mu.Lock()
	defer script.mu.Unlock()
	script.rows = rows
	script.result = result

	return f(ctx)
}

// Rows is the scripted result set of a query.
// Next consumes Values one row at a time.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string { return rows.Names }
func (rows *Rows) Close() error      { return nil }

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

// Result is the scripted outcome of an exec statement.
type Result struct {
	InsertID int64
	Affected int64
}

func (res Result) LastInsertId() (int64, error) { return res.InsertID, nil }
func (res Result) RowsAffected() (int64, error) { return res.Affected, nil }

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{}, nil
}

func (c *Conn) Close() error { return nil }

func (c *Conn) Begin() (driver.Tx, error) {
	panic("not implemented")
}

type Stmt struct{}

func (stmt *Stmt) Close() error  { return nil }
func (stmt *Stmt) NumInput() int { return -1 }

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return script.result, nil
}

func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &script.rows, nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Result = Result{}
	_ driver.Rows   = (*Rows)(nil)
)
