package db

import (
	"context"
	"time"
)

const getNonce = `
SELECT chain_id, address, nonce, updated_at FROM nonces WHERE chain_id = ?1 AND address = ?2
`

type GetNonceParams struct {
	ChainID int64
	Address string
}

func (q *Queries) GetNonce(ctx context.Context, arg GetNonceParams) (Nonce, error) {
	row := q.queryRow(ctx, getNonce, arg.ChainID, arg.Address)
	var i Nonce
	var updatedAtUnix int64
	err := row.Scan(
		&i.ChainID,
		&i.Address,
		&i.Nonce,
		&updatedAtUnix,
	)
	i.UpdatedAt = time.Unix(updatedAtUnix, 0)
	return i, err
}

const upsertNonce = `
INSERT INTO nonces ("chain_id", "address", "nonce", "updated_at") VALUES (?1, ?2, ?3, ?4)
ON CONFLICT (chain_id, address) DO UPDATE SET nonce = ?3, updated_at = ?4
`

type UpsertNonceParams struct {
	ChainID int64
	Address string
	Nonce   int64
}

func (q *Queries) UpsertNonce(ctx context.Context, arg UpsertNonceParams) error {
	_, err := q.exec(ctx, upsertNonce, arg.ChainID, arg.Address, arg.Nonce, time.Now().Unix())
	return err
}

const listOutstandingNonces = `
SELECT chain_id, address, nonce, hash, status, created_at, updated_at
FROM outstanding_nonces WHERE chain_id = ?1 AND address = ?2 ORDER BY nonce
`

type ListOutstandingNoncesParams struct {
	ChainID int64
	Address string
}

func (q *Queries) ListOutstandingNonces(
	ctx context.Context, arg ListOutstandingNoncesParams,
) ([]OutstandingNonce, error) {
	rows, err := q.query(ctx, listOutstandingNonces, arg.ChainID, arg.Address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutstandingNonce
	for rows.Next() {
		var i OutstandingNonce
		var createdAtUnix, updatedAtUnix int64
		if err := rows.Scan(
			&i.ChainID,
			&i.Address,
			&i.Nonce,
			&i.Hash,
			&i.Status,
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

const listNonceAddresses = `
SELECT address FROM nonces WHERE chain_id = ?1
UNION
SELECT address FROM outstanding_nonces WHERE chain_id = ?1
`

func (q *Queries) ListNonceAddresses(ctx context.Context, chainID int64) ([]string, error) {
	rows, err := q.query(ctx, listNonceAddresses, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		items = append(items, address)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertOutstandingNonce = `
INSERT INTO outstanding_nonces ("chain_id", "address", "nonce", "hash", "status", "created_at", "updated_at")
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?6)
ON CONFLICT (chain_id, address, nonce) DO UPDATE SET hash = ?4, status = ?5, updated_at = ?6
`

type InsertOutstandingNonceParams struct {
	ChainID int64
	Address string
	Nonce   int64
	Hash    string
	Status  string
}

func (q *Queries) InsertOutstandingNonce(ctx context.Context, arg InsertOutstandingNonceParams) error {
	_, err := q.exec(ctx, insertOutstandingNonce,
		arg.ChainID,
		arg.Address,
		arg.Nonce,
		arg.Hash,
		arg.Status,
		time.Now().Unix(),
	)
	return err
}

const updateOutstandingNonceStatus = `
UPDATE outstanding_nonces SET status = ?4, updated_at = ?5
WHERE chain_id = ?1 AND address = ?2 AND nonce = ?3
`

type UpdateOutstandingNonceStatusParams struct {
	ChainID int64
	Address string
	Nonce   int64
	Status  string
}

func (q *Queries) UpdateOutstandingNonceStatus(ctx context.Context, arg UpdateOutstandingNonceStatusParams) error {
	_, err := q.exec(ctx, updateOutstandingNonceStatus,
		arg.ChainID,
		arg.Address,
		arg.Nonce,
		arg.Status,
		time.Now().Unix(),
	)
	return err
}

const deleteOutstandingNonce = `
DELETE FROM outstanding_nonces WHERE chain_id = ?1 AND address = ?2 AND nonce = ?3
`

type DeleteOutstandingNonceParams struct {
	ChainID int64
	Address string
	Nonce   int64
}

func (q *Queries) DeleteOutstandingNonce(ctx context.Context, arg DeleteOutstandingNonceParams) error {
	_, err := q.exec(ctx, deleteOutstandingNonce, arg.ChainID, arg.Address, arg.Nonce)
	return err
}

const deleteOutstandingNoncesBelow = `
DELETE FROM outstanding_nonces WHERE chain_id = ?1 AND address = ?2 AND nonce < ?3
`

type DeleteOutstandingNoncesBelowParams struct {
	ChainID int64
	Address string
	Nonce   int64
}

func (q *Queries) DeleteOutstandingNoncesBelow(ctx context.Context, arg DeleteOutstandingNoncesBelowParams) error {
	_, err := q.exec(ctx, deleteOutstandingNoncesBelow, arg.ChainID, arg.Address, arg.Nonce)
	return err
}
