package impl

import (
	"context"
	"database/sql"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/textileio/go-tradesubmit/pkg/database"
	"github.com/textileio/go-tradesubmit/pkg/database/db"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordStore persists records in SQLite as JSON documents.
type RecordStore struct {
	log      zerolog.Logger
	chainID  int64
	sqliteDB *database.SQLiteDB
}

var _ pipeline.Store = (*RecordStore)(nil)

// NewRecordStore creates a new record store.
func NewRecordStore(sqliteDB *database.SQLiteDB, chainID int64) *RecordStore {
	return &RecordStore{
		log: sqliteDB.Log.With().
			Str("component", "recordstore").
			Int64("chain_id", chainID).
			Logger(),
		chainID:  chainID,
		sqliteDB: sqliteDB,
	}
}

// Get implements pipeline.Store.
func (s *RecordStore) Get(ctx context.Context, id string) (*txn.Record, error) {
	row, err := s.sqliteDB.Queries.GetTradeRecord(ctx, db.GetTradeRecordParams{
		ChainID: s.chainID,
		ID:      id,
	})
	if err == sql.ErrNoRows {
		return nil, pipeline.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get trade record")
	}
	return decode(row)
}

// Put implements pipeline.Store.
func (s *RecordStore) Put(ctx context.Context, rec *txn.Record) error {
	payload, err := json.MarshalToString(rec)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	if err := s.sqliteDB.Queries.UpsertTradeRecord(ctx, db.UpsertTradeRecordParams{
		ChainID: s.chainID,
		ID:      rec.ID,
		Address: rec.Request.From.Hex(),
		State:   string(rec.State),
		Payload: payload,
	}); err != nil {
		return errors.Wrap(err, "upsert trade record")
	}
	return nil
}

// ListOpen implements pipeline.Store.
func (s *RecordStore) ListOpen(ctx context.Context) ([]*txn.Record, error) {
	rows, err := s.sqliteDB.Queries.ListOpenTradeRecords(ctx, s.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "list open trade records")
	}
	recs := make([]*txn.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decode(row)
		if err != nil {
			s.log.Error().Err(err).Str("record", row.ID).Msg("skipping undecodable record")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func decode(row db.TradeRecord) (*txn.Record, error) {
	rec := &txn.Record{}
	if err := json.UnmarshalFromString(row.Payload, rec); err != nil {
		return nil, errors.Wrapf(err, "decoding record %s", row.ID)
	}
	return rec, nil
}
