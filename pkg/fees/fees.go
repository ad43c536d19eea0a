package fees

import (
	"context"
	"fmt"
	"math/big"

	"github.com/textileio/go-tradesubmit/pkg/txn"
)

// Estimator computes fee bids.
type Estimator interface {
	// Estimate returns a bid for the urgency tier. When prior is not nil the bid
	// replaces a rejected or stuck one and is strictly higher than it.
	Estimate(ctx context.Context, urgency txn.Urgency, prior *txn.FeeBid) (txn.FeeBid, error)
}

// Config contains configuration attributes for an estimator.
type Config struct {
	// SlowPercent, NormalPercent and FastPercent scale the observed median fee.
	SlowPercent   int64
	NormalPercent int64
	FastPercent   int64

	// BumpPercent is the minimum increase of a re-bid over the prior bid.
	BumpPercent int64

	// MaxFeeCap is the highest max fee per gas a bid may carry.
	MaxFeeCap *big.Int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SlowPercent:   90,
		NormalPercent: 100,
		FastPercent:   150,
		BumpPercent:   110,
		MaxFeeCap:     big.NewInt(500_000_000_000), // 500 gwei
	}
}

// Percent returns the multiplier of the urgency tier.
func (c *Config) Percent(u txn.Urgency) (int64, error) {
	switch u {
	case txn.UrgencySlow:
		return c.SlowPercent, nil
	case txn.UrgencyNormal:
		return c.NormalPercent, nil
	case txn.UrgencyFast:
		return c.FastPercent, nil
	default:
		return 0, fmt.Errorf("unknown urgency %s: %w", u, txn.ErrInvalidRequest)
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithTierPercents sets the multipliers of each urgency tier, in percent of the observed median.
func WithTierPercents(slow, normal, fast int64) Option {
	return func(c *Config) error {
		if slow <= 0 || normal <= 0 || fast <= 0 {
			return fmt.Errorf("tier percents must be positive")
		}
		if slow > normal || normal > fast {
			return fmt.Errorf("tier percents must be non decreasing (slow=%d normal=%d fast=%d)", slow, normal, fast)
		}
		c.SlowPercent, c.NormalPercent, c.FastPercent = slow, normal, fast
		return nil
	}
}

// WithBumpPercent sets the minimum re-bid increase, e.g. 110 for +10%.
func WithBumpPercent(percent int64) Option {
	return func(c *Config) error {
		if percent <= 100 {
			return fmt.Errorf("bump percent must be greater than 100")
		}
		c.BumpPercent = percent
		return nil
	}
}

// WithMaxFeeCap sets the highest max fee per gas a bid may carry.
func WithMaxFeeCap(maxFeeCap *big.Int) Option {
	return func(c *Config) error {
		if maxFeeCap == nil || maxFeeCap.Sign() <= 0 {
			return fmt.Errorf("max fee cap must be positive")
		}
		c.MaxFeeCap = new(big.Int).Set(maxFeeCap)
		return nil
	}
}
