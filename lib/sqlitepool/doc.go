// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with floppy's standard
// settings.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back. Connections are
// not safe for concurrent use. [Pool.Transaction] runs a function
// inside an IMMEDIATE transaction that commits when the function
// returns nil and rolls back otherwise.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers (e.g. a browser of the archive index)
//     never block the archiver's writes.
//   - synchronous=NORMAL: survives process crashes. The index is
//     rebuilt on every run, so OS-crash durability is not needed.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock.
//   - foreign_keys=ON: rows referencing a room must reference one that
//     exists.
//   - temp_store=MEMORY
//
// # Recreate
//
// [Config.Recreate] removes the database file and its -wal and -shm
// companions before opening. Archive indexes are derived data: each run
// writes a fresh database instead of migrating the previous one.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     filepath.Join(output, "index.db"),
//	    Recreate: true,
//	    Logger:   logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Transaction(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
