// Copyright 2025 The indexer-go Authors
// This file is part of the indexer-go library.
//
// The indexer-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The indexer-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the indexer-go library. If not, see <http://www.gnu.org/licenses/>.

// Package store is the durable home of the settlement core's state:
// receipts, vouchers, RAVs, allocation summaries, denylist entries, cost
// models and indexing rules, all partitioned by protocol network. Every
// multi-row invariant runs in a REPEATABLE READ transaction, and mutations
// of receipts, denylist and cost-model rows emit LISTEN/NOTIFY change events
// consumed through the Listener.
package store

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// serializationFailure is the SQLSTATE raised when a REPEATABLE READ
// transaction loses a concurrency race and must be retried.
const serializationFailure = "40001"

// maxTxRetries bounds the retry loop for serialization conflicts.
const maxTxRetries = 20

// Store wraps a pgx connection pool with the settlement data model.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New connects to the database and installs the schema.
func New(ctx context.Context, databaseURL string, logger log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Root()
	}
	s := &Store{pool: pool, logger: logger.New("component", "store")}
	if err := s.installSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool without touching the schema. Used by
// tests and tooling that manage the schema themselves.
func NewWithPool(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root()
	}
	return &Store{pool: pool, logger: logger.New("component", "store")}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// isSerializationFailure reports whether err is a retryable 40001 conflict.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

// withTx runs fn inside a REPEATABLE READ transaction, retrying
// serialization conflicts with exponential backoff up to maxTxRetries
// times. Any other error aborts the transaction and is returned as-is,
// leaving no partial mutation behind.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	attempt := func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback(ctx)
			return err
		}
		return tx.Commit(ctx)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTxRetries), ctx)
	return backoff.Retry(func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			s.logger.Debug("Retrying serialization conflict", "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// numericToBig parses the ::text form of a NUMERIC column.
func numericToBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("store: malformed numeric value " + s)
	}
	return v, nil
}

// nowUTC is the single clock used for closed_at latching.
func nowUTC() time.Time {
	return time.Now().UTC()
}
