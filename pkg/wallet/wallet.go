package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/textileio/go-tradesubmit/pkg/txn"
)

// Wallet holds the secret key of a sending account.
type Wallet struct {
	sk   *ecdsa.PrivateKey
	addr common.Address
}

// NewWallet creates a new wallet from a hex encoded private key, with or without 0x prefix.
func NewWallet(sk string) (*Wallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(sk), "0x"))
	if err != nil {
		return nil, fmt.Errorf("converting private key to ECDSA: %s", err)
	}
	return FromKey(privateKey), nil
}

// FromKey creates a wallet from an existing key.
func FromKey(sk *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		sk:   sk,
		addr: crypto.PubkeyToAddress(sk.PublicKey),
	}
}

// Address returns the wallet address.
func (w *Wallet) Address() common.Address {
	return w.addr
}

// KeyRef returns the reference of the wallet inside a Keyring.
func (w *Wallet) KeyRef() string {
	return KeyRefOf(w.addr)
}

// Sign returns the [R || S || V] signature of the envelope.
func (w *Wallet) Sign(env txn.Envelope) ([]byte, error) {
	if env.From != w.addr {
		return nil, fmt.Errorf("envelope sender %s doesn't match wallet %s", env.From.Hex(), w.addr.Hex())
	}
	sig, err := crypto.Sign(env.SigningHash().Bytes(), w.sk)
	if err != nil {
		return nil, fmt.Errorf("signing envelope: %s", err)
	}
	return sig, nil
}

// KeyRefOf returns the key reference used for an address.
func KeyRefOf(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
