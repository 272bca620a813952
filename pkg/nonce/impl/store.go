package impl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/database"
	"github.com/gatewaynetwork/go-txgateway/pkg/nonce"
	"github.com/rs/zerolog"
)

// NonceStore persists nonce records in the gateway SQLite database.
type NonceStore struct {
	log      zerolog.Logger
	sqliteDB *database.SQLiteDB
}

var _ nonce.Store = (*NonceStore)(nil)

// NewNonceStore creates a new nonce store.
func NewNonceStore(sqliteDB *database.SQLiteDB) *NonceStore {
	log := sqliteDB.Log.With().
		Str("component", "noncestore").
		Logger()

	return &NonceStore{
		log:      log,
		sqliteDB: sqliteDB,
	}
}

// GetRecord returns the nonce record for (chain, address).
func (s *NonceStore) GetRecord(ctx context.Context, chain, address string) (nonce.Record, error) {
	row := s.sqliteDB.DB.QueryRowContext(ctx,
		`SELECT last_allocated, synced_at FROM nonce_records WHERE chain = ?1 AND address = ?2`,
		chain, address)

	var lastAllocated, syncedAt int64
	if err := row.Scan(&lastAllocated, &syncedAt); err != nil {
		if err == sql.ErrNoRows {
			return nonce.Record{}, nonce.ErrNoRecord
		}
		return nonce.Record{}, fmt.Errorf("nonce store get record: %s", err)
	}

	return nonce.Record{
		Chain:         chain,
		Address:       address,
		LastAllocated: lastAllocated,
		SyncedAt:      time.Unix(syncedAt, 0),
	}, nil
}

// UpsertRecord creates or advances the nonce record for (chain, address).
func (s *NonceStore) UpsertRecord(ctx context.Context, chain, address string, lastAllocated int64) error {
	if _, err := s.sqliteDB.DB.ExecContext(ctx,
		`INSERT INTO nonce_records (chain, address, last_allocated, synced_at)
		 VALUES (?1, ?2, ?3, ?4)
		 ON CONFLICT (chain, address) DO UPDATE SET last_allocated = ?3, synced_at = ?4`,
		chain, address, lastAllocated, time.Now().Unix()); err != nil {
		return fmt.Errorf("nonce store upsert record: %s", err)
	}

	return nil
}
