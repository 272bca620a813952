package impl

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/database"
	"github.com/gatewaynetwork/go-txgateway/pkg/pendingtx"
	"github.com/rs/zerolog"
)

// Store persists pending transactions in the gateway SQLite database so that
// confirmation status survives a crash between submission and confirmation.
type Store struct {
	log      zerolog.Logger
	sqliteDB *database.SQLiteDB

	retention time.Duration
	quit      chan struct{}
}

var _ pendingtx.Store = (*Store)(nil)

// NewStore creates a new pending transaction store. If retention is positive,
// a background loop purges terminal and over-retention rows at that cadence.
func NewStore(sqliteDB *database.SQLiteDB, retention time.Duration) *Store {
	log := sqliteDB.Log.With().
		Str("component", "pendingtxstore").
		Logger()

	s := &Store{
		log:       log,
		sqliteDB:  sqliteDB,
		retention: retention,
	}
	if err := s.initMetrics(); err != nil {
		log.Error().Err(err).Msg("initializing metrics instruments")
	}

	if retention > 0 {
		s.quit = make(chan struct{})
		ticker := time.NewTicker(retention)
		go func() {
			for {
				select {
				case <-ticker.C:
					if err := s.purgeExpired(context.Background()); err != nil {
						log.Error().Err(err).Msg("purging expired pending txs")
					}
				case <-s.quit:
					ticker.Stop()
					return
				}
			}
		}()
	}

	return s
}

// Close stops the retention loop.
func (s *Store) Close() {
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
}

// Record registers a submitted transaction.
func (s *Store) Record(ctx context.Context, tx pendingtx.PendingTx) error {
	status := tx.Status
	if status == "" {
		status = pendingtx.StatusPending
	}
	if _, err := s.sqliteDB.DB.ExecContext(ctx,
		`INSERT INTO pending_txs (chain, hash, chain_id, address, nonce, fee_at_submission, submitted_at, status)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`,
		tx.Chain, tx.Hash, tx.ChainID, tx.Address, tx.Nonce,
		feeString(tx.FeeAtSubmission), tx.SubmittedAt.Unix(), string(status)); err != nil {
		return fmt.Errorf("pending tx store record: %s", err)
	}

	s.log.Debug().
		Str("hash", tx.Hash).
		Int64("nonce", tx.Nonce).
		Str("feeAtSubmission", feeString(tx.FeeAtSubmission)).
		Msg("recorded pending tx")

	return nil
}

// Get returns the tracked transaction for (chain, hash).
func (s *Store) Get(ctx context.Context, chain, hash string) (pendingtx.PendingTx, error) {
	row := s.sqliteDB.DB.QueryRowContext(ctx,
		`SELECT chain_id, address, nonce, fee_at_submission, submitted_at, status
		 FROM pending_txs WHERE chain = ?1 AND hash = ?2`,
		chain, hash)
	return s.scanTx(row, chain, hash)
}

// SetStatus updates the stored status for (chain, hash).
func (s *Store) SetStatus(ctx context.Context, chain, hash string, status pendingtx.Status) error {
	res, err := s.sqliteDB.DB.ExecContext(ctx,
		`UPDATE pending_txs SET status = ?3 WHERE chain = ?1 AND hash = ?2`,
		chain, hash, string(status))
	if err != nil {
		return fmt.Errorf("pending tx store set status: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pendingtx.ErrNotFound
	}

	return nil
}

// ListUnconfirmed returns every non-terminal transaction for a chain.
func (s *Store) ListUnconfirmed(ctx context.Context, chain string) ([]pendingtx.PendingTx, error) {
	rows, err := s.sqliteDB.DB.QueryContext(ctx,
		`SELECT hash, chain_id, address, nonce, fee_at_submission, submitted_at, status
		 FROM pending_txs
		 WHERE chain = ?1 AND status NOT IN (?2, ?3)
		 ORDER BY submitted_at ASC`,
		chain, string(pendingtx.StatusConfirmed), string(pendingtx.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("pending tx store list unconfirmed: %s", err)
	}
	defer func() { _ = rows.Close() }()

	txs := make([]pendingtx.PendingTx, 0)
	for rows.Next() {
		var tx pendingtx.PendingTx
		var fee string
		var submittedAt int64
		var status string
		if err := rows.Scan(&tx.Hash, &tx.ChainID, &tx.Address, &tx.Nonce, &fee, &submittedAt, &status); err != nil {
			return nil, fmt.Errorf("pending tx store scan row: %s", err)
		}
		tx.Chain = chain
		tx.FeeAtSubmission = parseFee(fee)
		tx.SubmittedAt = time.Unix(submittedAt, 0)
		tx.Status = pendingtx.Status(status)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending tx store iterate rows: %s", err)
	}

	return txs, nil
}

// Evict removes the transaction from the registry.
func (s *Store) Evict(ctx context.Context, chain, hash string) error {
	if _, err := s.sqliteDB.DB.ExecContext(ctx,
		`DELETE FROM pending_txs WHERE chain = ?1 AND hash = ?2`,
		chain, hash); err != nil {
		return fmt.Errorf("pending tx store evict: %s", err)
	}

	return nil
}

func (s *Store) purgeExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).Unix()
	res, err := s.sqliteDB.DB.ExecContext(ctx,
		`DELETE FROM pending_txs WHERE status IN (?1, ?2) OR submitted_at < ?3`,
		string(pendingtx.StatusConfirmed), string(pendingtx.StatusFailed), cutoff)
	if err != nil {
		return fmt.Errorf("purge expired: %s", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info().Int64("purged", n).Msg("purged pending txs")
	}

	return nil
}

func (s *Store) scanTx(row *sql.Row, chain, hash string) (pendingtx.PendingTx, error) {
	var tx pendingtx.PendingTx
	var fee string
	var submittedAt int64
	var status string
	if err := row.Scan(&tx.ChainID, &tx.Address, &tx.Nonce, &fee, &submittedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return pendingtx.PendingTx{}, pendingtx.ErrNotFound
		}
		return pendingtx.PendingTx{}, fmt.Errorf("pending tx store get: %s", err)
	}

	tx.Chain = chain
	tx.Hash = hash
	tx.FeeAtSubmission = parseFee(fee)
	tx.SubmittedAt = time.Unix(submittedAt, 0)
	tx.Status = pendingtx.Status(status)
	return tx, nil
}

// feeString keeps the nil/zero distinction: an empty string means no fee
// snapshot existed at submission, which classifies as MEMPOOL_UNKNOWN.
func feeString(fee *big.Int) string {
	if fee == nil {
		return ""
	}
	return fee.String()
}

func parseFee(s string) *big.Int {
	if s == "" {
		return nil
	}
	fee, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return fee
}
