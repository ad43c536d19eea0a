package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/textileio/go-tradesubmit/pkg/txn"
)

// Keyring is an in-process signer holding one wallet per account.
// Key material never leaves the keyring, callers only get signatures.
type Keyring struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	closed  bool
}

// NewKeyring returns a keyring holding the given wallets.
func NewKeyring(wallets ...*Wallet) *Keyring {
	k := &Keyring{wallets: make(map[string]*Wallet, len(wallets))}
	for _, w := range wallets {
		k.wallets[w.KeyRef()] = w
	}
	return k
}

// NewKeyringFromHex returns a keyring from hex encoded private keys.
func NewKeyringFromHex(keys ...string) (*Keyring, error) {
	wallets := make([]*Wallet, 0, len(keys))
	for i, key := range keys {
		w, err := NewWallet(key)
		if err != nil {
			return nil, fmt.Errorf("loading key #%d: %s", i, err)
		}
		wallets = append(wallets, w)
	}
	return NewKeyring(wallets...), nil
}

// Add adds a wallet to the keyring.
func (k *Keyring) Add(w *Wallet) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.wallets[w.KeyRef()] = w
}

// KeyRefs returns the references of every wallet in the keyring.
func (k *Keyring) KeyRefs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	refs := make([]string, 0, len(k.wallets))
	for ref := range k.wallets {
		refs = append(refs, ref)
	}
	return refs
}

// Sign signs the envelope with the key referenced by keyRef.
// An empty keyRef selects the key of the envelope sender.
func (k *Keyring) Sign(ctx context.Context, env txn.Envelope, keyRef string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if keyRef == "" {
		keyRef = KeyRefOf(env.From)
	}

	k.mu.RLock()
	closed := k.closed
	w, ok := k.wallets[strings.ToLower(keyRef)]
	k.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("keyring is closed: %w", txn.ErrSignerUnavailable)
	}
	if !ok {
		return nil, fmt.Errorf("unknown key %s: %w", keyRef, txn.ErrSignerUnavailable)
	}
	sig, err := w.Sign(env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, txn.ErrSignerUnavailable)
	}
	return sig, nil
}

// Close forgets every key. Later Sign calls fail with ErrSignerUnavailable.
func (k *Keyring) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	k.wallets = map[string]*Wallet{}
}
