package txn

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Urgency is the caller supplied urgency tier of a trade.
type Urgency int

const (
	// UrgencySlow bids below the observed median.
	UrgencySlow Urgency = iota
	// UrgencyNormal bids the observed median.
	UrgencyNormal
	// UrgencyFast bids above the observed median.
	UrgencyFast
)

func (u Urgency) String() string {
	switch u {
	case UrgencySlow:
		return "slow"
	case UrgencyNormal:
		return "normal"
	case UrgencyFast:
		return "fast"
	default:
		return fmt.Sprintf("urgency(%d)", int(u))
	}
}

// ParseUrgency parses the string representation of an urgency tier.
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slow":
		return UrgencySlow, nil
	case "", "normal":
		return UrgencyNormal, nil
	case "fast":
		return UrgencyFast, nil
	default:
		return 0, fmt.Errorf("unknown urgency %q: %w", s, ErrInvalidRequest)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Urgency) UnmarshalText(text []byte) error {
	parsed, err := ParseUrgency(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Account is the view of a sending account as known by the ledger.
type Account struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Balance *big.Int       `json:"balance"`
}

// TradeRequest is the logical intent of a trade. It must not be modified once created.
type TradeRequest struct {
	// ID identifies the logical request. Submitting twice with the same ID never sends twice.
	ID string `json:"id"`

	From     common.Address `json:"from"`
	KeyRef   string         `json:"key_ref,omitempty"`
	To       common.Address `json:"to"`
	Selector hexutil.Bytes  `json:"selector,omitempty"`
	Args     hexutil.Bytes  `json:"args,omitempty"`
	Value    *big.Int       `json:"value,omitempty"`
	Urgency  Urgency        `json:"urgency"`

	// GasLimit is optional, the builder default is used when zero.
	GasLimit uint64 `json:"gas_limit,omitempty"`
	// Deadline is optional, the pipeline default is used when zero.
	Deadline time.Duration `json:"deadline,omitempty"`
}

// Data returns the call data of the request, the selector followed by the encoded arguments.
func (r TradeRequest) Data() []byte {
	data := make([]byte, 0, len(r.Selector)+len(r.Args))
	data = append(data, r.Selector...)
	return append(data, r.Args...)
}

// Equal reports whether both requests describe the same intent.
func (r TradeRequest) Equal(o TradeRequest) bool {
	return r.ID == o.ID &&
		r.From == o.From &&
		r.KeyRef == o.KeyRef &&
		r.To == o.To &&
		bytes.Equal(r.Selector, o.Selector) &&
		bytes.Equal(r.Args, o.Args) &&
		bigEqual(r.Value, o.Value) &&
		r.Urgency == o.Urgency &&
		r.GasLimit == o.GasLimit &&
		r.Deadline == o.Deadline
}

// FeeBid is an EIP-1559 fee bid.
type FeeBid struct {
	GasFeeCap *big.Int `json:"gas_fee_cap"`
	GasTipCap *big.Int `json:"gas_tip_cap"`
}

// Cmp compares the fee caps of both bids.
func (b FeeBid) Cmp(o FeeBid) int {
	return b.GasFeeCap.Cmp(o.GasFeeCap)
}

func (b FeeBid) String() string {
	return fmt.Sprintf("feeCap=%s tipCap=%s", b.GasFeeCap, b.GasTipCap)
}

// Envelope is an unsigned transaction. A replacement envelope keeps the nonce and raises the bid.
type Envelope struct {
	ChainID  *big.Int       `json:"chain_id"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value"`
	Data     hexutil.Bytes  `json:"data"`
	Nonce    uint64         `json:"nonce"`
	Fee      FeeBid         `json:"fee"`
	GasLimit uint64         `json:"gas_limit"`
}

// Tx returns the unsigned dynamic fee transaction for the envelope.
func (e Envelope) Tx() *types.Transaction {
	to := e.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.ChainID,
		Nonce:     e.Nonce,
		GasTipCap: e.Fee.GasTipCap,
		GasFeeCap: e.Fee.GasFeeCap,
		Gas:       e.GasLimit,
		To:        &to,
		Value:     e.Value,
		Data:      e.Data,
	})
}

// SigningHash returns the hash the external signer must sign.
func (e Envelope) SigningHash() common.Hash {
	return types.NewLondonSigner(e.ChainID).Hash(e.Tx())
}

// Seal attaches a signature to the envelope and returns the signed transaction.
func (e Envelope) Seal(signature []byte) (*types.Transaction, error) {
	signed, err := e.Tx().WithSignature(types.NewLondonSigner(e.ChainID), signature)
	if err != nil {
		return nil, fmt.Errorf("attaching signature: %s", err)
	}
	sender, err := types.Sender(types.NewLondonSigner(e.ChainID), signed)
	if err != nil {
		return nil, fmt.Errorf("recovering sender: %s", err)
	}
	if sender != e.From {
		return nil, fmt.Errorf("signature belongs to %s, expected %s", sender.Hex(), e.From.Hex())
	}
	return signed, nil
}

// State is the state of a record or of a single attempt.
type State string

const (
	StateBuilding  State = "building"
	StateSigned    State = "signed"
	StateBroadcast State = "broadcast"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateDropped   State = "dropped"
	StateReplaced  State = "replaced"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateDropped, StateReplaced:
		return true
	}
	return false
}

// Sent reports whether the state is Broadcast or any later state reached after a broadcast.
func (s State) Sent() bool {
	switch s {
	case StateBroadcast, StatePending, StateConfirmed, StateDropped, StateReplaced:
		return true
	}
	return false
}

// Attempt is one signed envelope broadcast under a record.
type Attempt struct {
	Envelope  Envelope      `json:"envelope"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
	Hash      common.Hash   `json:"hash"`
	State     State         `json:"state"`
	Reason    Reason        `json:"reason,omitempty"`
	Cancel    bool          `json:"cancel,omitempty"`
	SentAt    time.Time     `json:"sent_at"`
}

// Record tracks a logical TradeRequest through its lifecycle.
type Record struct {
	ID      string       `json:"id"`
	Request TradeRequest `json:"request"`

	// Envelope, Signature and Hash describe the latest attempt.
	Envelope  Envelope      `json:"envelope"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
	Hash      common.Hash   `json:"hash"`

	State  State  `json:"state"`
	Reason Reason `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	// FinalHash is the hash that got included, if any.
	FinalHash   common.Hash `json:"final_hash"`
	Cancelled   bool        `json:"cancelled,omitempty"`
	Unwatched   bool        `json:"unwatched,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Deadline    time.Time   `json:"deadline"`

	Attempts []Attempt `json:"attempts"`
}

// Clone returns a deep enough copy of the record to be handed to other goroutines.
func (r *Record) Clone() *Record {
	c := *r
	c.Attempts = make([]Attempt, len(r.Attempts))
	copy(c.Attempts, r.Attempts)
	return &c
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return (a == nil || a.Sign() == 0) && (b == nil || b.Sign() == 0)
	}
	return a.Cmp(b) == 0
}
