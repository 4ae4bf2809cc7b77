package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/perpscan/fundingmon/internal/config"
	"github.com/perpscan/fundingmon/internal/models"
)

// PgxConn is the subset of *pgx.Conn the store depends on. pgxmock's
// PgxConnIface satisfies it as well, so tests can inject a mock handle.
type PgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// DialFunc opens a new database connection.
type DialFunc func(ctx context.Context) (PgxConn, error)

// Store owns one database connection for the lifetime of a collector and
// performs batched transactional writes against the market_data table.
// It is not safe for concurrent use; each collector goroutine owns its
// store exclusively.
type Store struct {
	dial DialFunc
	conn PgxConn
	log  *logrus.Entry
}

// NewStore builds a store that dials PostgreSQL with the given config. The
// connection is established lazily on the first EnsureConnection call.
func NewStore(cfg config.DatabaseConfig) *Store {
	dsn := cfg.DSN()
	return NewStoreWithDial(func(ctx context.Context) (PgxConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// NewStoreWithDial builds a store around a custom dialer.
func NewStoreWithDial(dial DialFunc) *Store {
	return &Store{
		dial: dial,
		log:  logrus.WithField("component", "store"),
	}
}

// IsConnected reports whether the current handle answers a trivial liveness
// probe. It never returns an error; a dead or absent handle reads as false.
func (s *Store) IsConnected(ctx context.Context) bool {
	if s.conn == nil {
		return false
	}
	_, err := s.conn.Exec(ctx, "SELECT 1")
	return err == nil
}

// EnsureConnection reconnects if the handle is dead or absent. Any stale
// handle is closed best-effort first. Connection loss between ticks is
// expected; callers invoke this at the top of every tick.
func (s *Store) EnsureConnection(ctx context.Context) error {
	if s.IsConnected(ctx) {
		return nil
	}

	if s.conn != nil {
		s.log.Warn("database connection lost, reconnecting")
		if err := s.conn.Close(ctx); err != nil {
			s.log.WithError(err).Debug("closing stale connection")
		}
		s.conn = nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.conn = conn
	s.log.Info("connected to database")
	return nil
}

// InsertBatch writes all records in one transaction using a single
// multi-row INSERT. On any failure the whole transaction is rolled back;
// partial batches are never persisted. An empty batch is a no-op.
func (s *Store) InsertBatch(ctx context.Context, records []models.MarketRecord) error {
	if len(records) == 0 {
		return nil
	}
	if s.conn == nil {
		return fmt.Errorf("store not connected")
	}

	query, args := buildInsert(records)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.log.WithError(rbErr).Warn("rollback failed")
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	s.log.WithField("records", len(records)).Debug("batch inserted")
	return nil
}

// Close releases the connection handle. Safe to call with no connection.
func (s *Store) Close(ctx context.Context) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(ctx); err != nil {
		s.log.WithError(err).Debug("closing connection")
	}
	s.conn = nil
}

const insertColumns = "time, exchange, symbol, price, volume_24h, open_interest, funding_rate, bid, ask"

func buildInsert(records []models.MarketRecord) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO market_data (")
	sb.WriteString(insertColumns)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(records)*9)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			r.Time, r.Exchange, r.Symbol,
			r.Price, r.Volume24h, r.OpenInterest, r.FundingRate, r.Bid, r.Ask)
	}
	return sb.String(), args
}
