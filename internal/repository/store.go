package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"stageflow/internal/model"
	"stageflow/internal/store"
	"stageflow/pkg/util"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// repos bundles the per-table repositories over one querier.
type repos struct {
	*ProjectRepository
	*StageRepository
	*DependencyRepository
	*TemplateRepository
	*HistoryRepository
}

func newRepos(q querier, logger *zap.Logger) repos {
	return repos{
		ProjectRepository:    NewProjectRepository(q, logger),
		StageRepository:      NewStageRepository(q, logger),
		DependencyRepository: NewDependencyRepository(q, logger),
		TemplateRepository:   NewTemplateRepository(q, logger),
		HistoryRepository:    NewHistoryRepository(q, logger),
	}
}

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	repos
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		repos:  newRepos(pool, logger),
		pool:   pool,
		logger: logger,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// maxTxAttempts bounds reruns of a transaction that lost a serialization
// conflict or a deadlock.
const maxTxAttempts = 3

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := int64(1); ; attempt++ {
		err = s.runTx(ctx, fn)
		retryable, kind := util.IsRetryableError(err)
		if !retryable || kind == util.ErrorKindConnection || !util.ShouldRetry(attempt, maxTxAttempts-1, retryable) {
			return err
		}
		s.logger.Warn("Retrying transaction",
			zap.Int64("attempt", attempt),
			zap.String("error_kind", kind),
			zap.Error(err),
		)
	}
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		s.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("begin tx: %w", err)
	}

	t := &txStore{repos: newRepos(pgTx, s.logger), tx: pgTx, logger: s.logger}
	if err := fn(t); err != nil {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		s.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txStore struct {
	repos
	tx     pgx.Tx
	logger *zap.Logger
}

// LockItem takes a transaction-scoped advisory lock keyed by the item id.
func (t *txStore) LockItem(ctx context.Context, itemID string) error {
	t.logger.Debug("Acquiring item advisory lock", zap.String("item_id", itemID))
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, itemID); err != nil {
		t.logger.Error("Failed to acquire item advisory lock", zap.String("item_id", itemID), zap.Error(err))
		return fmt.Errorf("lock item %s: %w", itemID, err)
	}
	return nil
}

// notFound maps pgx.ErrNoRows to a domain error.
func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
