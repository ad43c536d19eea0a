package db

import (
	"context"
	"time"
)

const upsertTradeRecord = `
INSERT INTO trade_records ("chain_id", "id", "address", "state", "payload", "created_at", "updated_at")
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?6)
ON CONFLICT (chain_id, id) DO UPDATE SET state = ?4, payload = ?5, updated_at = ?6
`

type UpsertTradeRecordParams struct {
	ChainID int64
	ID      string
	Address string
	State   string
	Payload string
}

func (q *Queries) UpsertTradeRecord(ctx context.Context, arg UpsertTradeRecordParams) error {
	_, err := q.exec(ctx, upsertTradeRecord,
		arg.ChainID,
		arg.ID,
		arg.Address,
		arg.State,
		arg.Payload,
		time.Now().Unix(),
	)
	return err
}

const getTradeRecord = `
SELECT chain_id, id, address, state, payload, created_at, updated_at
FROM trade_records WHERE chain_id = ?1 AND id = ?2
`

type GetTradeRecordParams struct {
	ChainID int64
	ID      string
}

func (q *Queries) GetTradeRecord(ctx context.Context, arg GetTradeRecordParams) (TradeRecord, error) {
	row := q.queryRow(ctx, getTradeRecord, arg.ChainID, arg.ID)
	var i TradeRecord
	var createdAtUnix, updatedAtUnix int64
	err := row.Scan(
		&i.ChainID,
		&i.ID,
		&i.Address,
		&i.State,
		&i.Payload,
		&createdAtUnix,
		&updatedAtUnix,
	)
	i.CreatedAt = time.Unix(createdAtUnix, 0)
	i.UpdatedAt = time.Unix(updatedAtUnix, 0)
	return i, err
}

const listOpenTradeRecords = `
SELECT chain_id, id, address, state, payload, created_at, updated_at
FROM trade_records
WHERE chain_id = ?1 AND state NOT IN ('confirmed', 'failed', 'dropped', 'replaced')
ORDER BY created_at
`

func (q *Queries) ListOpenTradeRecords(ctx context.Context, chainID int64) ([]TradeRecord, error) {
	rows, err := q.query(ctx, listOpenTradeRecords, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TradeRecord
	for rows.Next() {
		var i TradeRecord
		var createdAtUnix, updatedAtUnix int64
		if err := rows.Scan(
			&i.ChainID,
			&i.ID,
			&i.Address,
			&i.State,
			&i.Payload,
			&createdAtUnix,
			&updatedAtUnix,
		); err != nil {
			return nil, err
		}
		i.CreatedAt = time.Unix(createdAtUnix, 0)
		i.UpdatedAt = time.Unix(updatedAtUnix, 0)
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
