package db

import (
	"time"
)

type Nonce struct {
	ChainID   int64
	Address   string
	Nonce     int64
	UpdatedAt time.Time
}

type OutstandingNonce struct {
	ChainID   int64
	Address   string
	Nonce     int64
	Hash      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TradeRecord struct {
	ChainID   int64
	ID        string
	Address   string
	State     string
	Payload   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
