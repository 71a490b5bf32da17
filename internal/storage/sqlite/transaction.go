package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fabworks/shopfloor/internal/storage"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Conn,
// letting the query helpers serve both pooled reads and transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Verify sqliteTx implements storage.Tx at compile time
var _ storage.Tx = (*sqliteTx)(nil)

// sqliteTx implements storage.Tx on a dedicated connection holding an
// open IMMEDIATE transaction.
type sqliteTx struct {
	conn *sql.Conn
}

// RunInTransaction executes fn within one database transaction.
//
// BEGIN IMMEDIATE acquires the write lock up front so concurrent writers
// queue instead of deadlocking at commit. SQLITE_BUSY on begin is retried
// with exponential backoff. On error or panic the transaction is rolled
// back; no partial mutation escapes.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even when ctx is
			// already cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&sqliteTx{conn: conn}); err != nil {
		return err // rollback happens in defer
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// beginImmediate starts an IMMEDIATE transaction, retrying while another
// writer holds the lock.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(10*time.Millisecond)), 5), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
