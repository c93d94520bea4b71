package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"
)

// AdvisoryLock guards replay runs with session-scoped advisory locks when
// Redis is not configured. Locks live on one pinned connection and have no
// TTL; they drop when the connection closes.
type AdvisoryLock struct {
	db    *DB
	conns map[string]*sql.Conn
}

// NewAdvisoryLock creates a new advisory lock adapter
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db, conns: make(map[string]*sql.Conn)}
}

func hashLockName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("linksweep:lock:" + name))
	return int64(h.Sum64())
}

// Acquire tries the lock without blocking. ttl is ignored.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if _, held := l.conns[name]; held {
		return true, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hashLockName(name)).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conns[name] = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	conn, ok := l.conns[name]
	if !ok {
		return nil
	}
	delete(l.conns, name)
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", hashLockName(name)).Scan(&released); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
