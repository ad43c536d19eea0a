package txn

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultGasLimit is the gas limit used when neither the request nor the builder set one.
const DefaultGasLimit = 300_000

// SelectorLength is the length of a contract function selector.
const SelectorLength = 4

// Builder assembles envelopes from trade requests. It does no I/O.
type Builder struct {
	chainID  *big.Int
	gasLimit uint64
}

// NewBuilder returns a Builder for the given chain. A zero gasLimit means DefaultGasLimit.
func NewBuilder(chainID *big.Int, gasLimit uint64) *Builder {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Builder{
		chainID:  new(big.Int).Set(chainID),
		gasLimit: gasLimit,
	}
}

// ChainID returns the chain id stamped in every envelope.
func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// Build assembles the envelope for req using the given nonce and fee bid.
// The balance check against account is a soft check, the chain enforces the real one.
func (b *Builder) Build(req TradeRequest, account Account, nonce uint64, bid FeeBid) (Envelope, error) {
	if err := Validate(req, account); err != nil {
		return Envelope{}, err
	}
	if bid.GasFeeCap == nil || bid.GasFeeCap.Sign() <= 0 {
		return Envelope{}, fmt.Errorf("fee cap must be positive: %w", ErrInvalidRequest)
	}
	tip := bid.GasTipCap
	if tip == nil {
		tip = new(big.Int)
	}
	if tip.Cmp(bid.GasFeeCap) > 0 {
		return Envelope{}, fmt.Errorf("tip cap %s above fee cap %s: %w", tip, bid.GasFeeCap, ErrInvalidRequest)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = b.gasLimit
	}
	value := new(big.Int)
	if req.Value != nil {
		value.Set(req.Value)
	}

	return Envelope{
		ChainID: b.ChainID(),
		From:    req.From,
		To:      req.To,
		Value:   value,
		Data:    req.Data(),
		Nonce:   nonce,
		Fee: FeeBid{
			GasFeeCap: new(big.Int).Set(bid.GasFeeCap),
			GasTipCap: new(big.Int).Set(tip),
		},
		GasLimit: gasLimit,
	}, nil
}

// Validate checks the request against the known account state.
func Validate(req TradeRequest, account Account) error {
	if req.From == (common.Address{}) {
		return fmt.Errorf("missing sender: %w", ErrInvalidRequest)
	}
	if account.Address != (common.Address{}) && account.Address != req.From {
		return fmt.Errorf("account %s doesn't match sender %s: %w", account.Address.Hex(), req.From.Hex(), ErrInvalidRequest)
	}
	if req.To == (common.Address{}) {
		return fmt.Errorf("missing destination: %w", ErrInvalidRequest)
	}
	if req.Value != nil && req.Value.Sign() < 0 {
		return fmt.Errorf("negative value %s: %w", req.Value, ErrInvalidRequest)
	}
	if req.Value != nil && account.Balance != nil && req.Value.Cmp(account.Balance) > 0 {
		return fmt.Errorf("value %s above balance %s: %w", req.Value, account.Balance, ErrInvalidRequest)
	}
	if len(req.Selector) > 0 {
		if len(req.Selector) != SelectorLength {
			return fmt.Errorf("selector must be %d bytes, got %d: %w", SelectorLength, len(req.Selector), ErrInvalidRequest)
		}
		if len(req.Args) == 0 {
			return fmt.Errorf("empty payload for selector %x: %w", req.Selector, ErrInvalidRequest)
		}
	}
	if req.Deadline < 0 {
		return fmt.Errorf("negative deadline: %w", ErrInvalidRequest)
	}
	return nil
}

// Replacement returns prev with the same nonce and the new bid.
func (b *Builder) Replacement(prev Envelope, bid FeeBid) Envelope {
	next := prev
	next.Data = append([]byte(nil), prev.Data...)
	next.Fee = FeeBid{
		GasFeeCap: new(big.Int).Set(bid.GasFeeCap),
		GasTipCap: new(big.Int).Set(bid.GasTipCap),
	}
	return next
}

// Cancellation returns a no-op self transfer with the nonce of prev and the new bid.
// Once included it consumes the nonce, which is the only way to cancel a sent transaction.
func (b *Builder) Cancellation(prev Envelope, bid FeeBid) Envelope {
	next := b.Replacement(prev, bid)
	next.To = prev.From
	next.Value = new(big.Int)
	next.Data = nil
	next.GasLimit = cancelGasLimit
	return next
}

// cancelGasLimit is the intrinsic gas of a plain transfer.
const cancelGasLimit = 21_000
