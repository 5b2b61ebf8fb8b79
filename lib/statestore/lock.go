// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var lockRetryDelay = 250 * time.Millisecond

// A Locker holds a cluster-wide advisory lock keyed by a resource
// group id string. The string key is hashed to the int64 key space
// of pg_advisory_lock, so every coordinator sharing the database
// contends on the same lock for the same group.
type Locker struct {
	logger logrus.FieldLogger
	key    string
	id     int64
	db     *sqlx.DB

	mtx  sync.Mutex
	conn *sql.Conn // != nil while the advisory lock is held

	// tryOnce makes a single acquisition attempt. Overridden in
	// tests; the default pins a database connection and calls
	// pg_try_advisory_lock on it.
	tryOnce func(ctx context.Context) (bool, error)
}

func newLocker(logger logrus.FieldLogger, db *sqlx.DB, key string) *Locker {
	l := &Locker{
		logger: logger.WithField("LockKey", key),
		key:    key,
		id:     advisoryKey(key),
		db:     db,
	}
	l.tryOnce = l.tryAdvisoryLock
	return l
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// TryLock attempts to acquire the lock, retrying until the timeout
// expires. It returns false, with no error, if the wait expired
// before acquisition.
func (l *Locker) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.tryOnce(ctx)
		if locked {
			return true, nil
		}
		if err != nil {
			l.releaseUnheld()
			return false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.logger.Debug("lock wait expired")
			l.releaseUnheld()
			return false, nil
		}
		delay := lockRetryDelay
		if delay > remaining {
			delay = remaining
		}
		select {
		case <-ctx.Done():
			l.releaseUnheld()
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// releaseUnheld returns the pinned connection to the pool after a
// failed acquisition. The connection does not hold the advisory
// lock, so closing it is enough.
func (l *Locker) releaseUnheld() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func (l *Locker) tryAdvisoryLock(ctx context.Context) (bool, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return false, err
		}
		l.conn = conn
	}
	var locked bool
	err := l.conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&locked)
	if err != nil {
		l.conn.Close()
		l.conn = nil
		return false, err
	}
	if locked {
		l.logger.Debug("acquired pg_advisory_lock")
	}
	return locked, nil
}

// Unlock releases the advisory lock and returns the pinned
// connection to the pool. Safe to call when the lock is not held.
func (l *Locker) Unlock() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.conn == nil {
		return
	}
	_, err := l.conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, l.id)
	if err != nil {
		l.logger.WithError(err).Info("error releasing pg_advisory_lock")
	} else {
		l.logger.Debug("released pg_advisory_lock")
	}
	l.conn.Close()
	l.conn = nil
}
