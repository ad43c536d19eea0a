package impl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/textileio/go-tradesubmit/pkg/database"
	"github.com/textileio/go-tradesubmit/pkg/database/db"
	"github.com/textileio/go-tradesubmit/pkg/nonce"
)

// NonceStore persists allocator state in SQLite.
type NonceStore struct {
	log      zerolog.Logger
	chainID  int64
	sqliteDB *database.SQLiteDB
}

var _ nonce.Store = (*NonceStore)(nil)

// NewNonceStore creates a new nonce store.
func NewNonceStore(sqliteDB *database.SQLiteDB, chainID int64) *NonceStore {
	log := sqliteDB.Log.With().
		Str("component", "noncestore").
		Int64("chain_id", chainID).
		Logger()

	return &NonceStore{
		log:      log,
		chainID:  chainID,
		sqliteDB: sqliteDB,
	}
}

// GetNonce returns the stored counter of the account. The boolean is false if there's none.
func (s *NonceStore) GetNonce(ctx context.Context, addr common.Address) (uint64, bool, error) {
	n, err := s.sqliteDB.Queries.GetNonce(ctx, db.GetNonceParams{
		ChainID: s.chainID,
		Address: addr.Hex(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("nonce store get nonce: %s", err)
	}
	return uint64(n.Nonce), true, nil
}

// UpsertNonce stores the counter of the account.
func (s *NonceStore) UpsertNonce(ctx context.Context, addr common.Address, n uint64) error {
	if err := s.sqliteDB.Queries.UpsertNonce(ctx, db.UpsertNonceParams{
		ChainID: s.chainID,
		Address: addr.Hex(),
		Nonce:   int64(n),
	}); err != nil {
		return fmt.Errorf("nonce store upsert nonce: %s", err)
	}
	return nil
}

// ListAddresses lists every account with allocator state.
func (s *NonceStore) ListAddresses(ctx context.Context) ([]common.Address, error) {
	addresses, err := s.sqliteDB.Queries.ListNonceAddresses(ctx, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("nonce store list addresses: %s", err)
	}
	addrs := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		addrs = append(addrs, common.HexToAddress(a))
	}
	return addrs, nil
}

// ListOutstanding lists the outstanding nonces of the account ordered by nonce.
func (s *NonceStore) ListOutstanding(ctx context.Context, addr common.Address) ([]nonce.Outstanding, error) {
	rows, err := s.sqliteDB.Queries.ListOutstandingNonces(ctx, db.ListOutstandingNoncesParams{
		ChainID: s.chainID,
		Address: addr.Hex(),
	})
	if err != nil {
		return nil, fmt.Errorf("nonce store list outstanding: %s", err)
	}

	outstanding := make([]nonce.Outstanding, 0, len(rows))
	for _, r := range rows {
		outstanding = append(outstanding, nonce.Outstanding{
			Address:   common.HexToAddress(r.Address),
			Nonce:     uint64(r.Nonce),
			Hash:      common.HexToHash(r.Hash),
			Status:    nonce.Status(r.Status),
			CreatedAt: r.CreatedAt,
		})
	}
	return outstanding, nil
}

// InsertOutstanding inserts an issued nonce, overwriting a previous one with the same nonce.
func (s *NonceStore) InsertOutstanding(ctx context.Context, o nonce.Outstanding) error {
	if err := s.sqliteDB.Queries.InsertOutstandingNonce(ctx, db.InsertOutstandingNonceParams{
		ChainID: s.chainID,
		Address: o.Address.Hex(),
		Nonce:   int64(o.Nonce),
		Hash:    o.Hash.Hex(),
		Status:  string(o.Status),
	}); err != nil {
		return fmt.Errorf("nonce store insert outstanding: %s", err)
	}
	return nil
}

// UpdateOutstandingStatus updates the status of an issued nonce.
func (s *NonceStore) UpdateOutstandingStatus(
	ctx context.Context, addr common.Address, n uint64, status nonce.Status,
) error {
	if err := s.sqliteDB.Queries.UpdateOutstandingNonceStatus(ctx, db.UpdateOutstandingNonceStatusParams{
		ChainID: s.chainID,
		Address: addr.Hex(),
		Nonce:   int64(n),
		Status:  string(status),
	}); err != nil {
		return fmt.Errorf("nonce store update outstanding: %s", err)
	}
	return nil
}

// DeleteOutstanding deletes an issued nonce.
func (s *NonceStore) DeleteOutstanding(ctx context.Context, addr common.Address, n uint64) error {
	if err := s.sqliteDB.Queries.DeleteOutstandingNonce(ctx, db.DeleteOutstandingNonceParams{
		ChainID: s.chainID,
		Address: addr.Hex(),
		Nonce:   int64(n),
	}); err != nil {
		return fmt.Errorf("nonce store delete outstanding: %s", err)
	}
	return nil
}

// DeleteOutstandingBelow deletes every issued nonce lower than n.
func (s *NonceStore) DeleteOutstandingBelow(ctx context.Context, addr common.Address, n uint64) error {
	if err := s.sqliteDB.Queries.DeleteOutstandingNoncesBelow(ctx, db.DeleteOutstandingNoncesBelowParams{
		ChainID: s.chainID,
		Address: addr.Hex(),
		Nonce:   int64(n),
	}); err != nil {
		return fmt.Errorf("nonce store delete outstanding below: %s", err)
	}
	return nil
}
