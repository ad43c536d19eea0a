package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/omeid/uconfig"
)

// configFilename is the filename of the config file automatically loaded.
var configFilename = "config.json"

type config struct {
	HTTP struct {
		Port                  string `default:"8080"`
		RateLimInterval       string `default:"1s"`
		MaxRequestPerInterval uint64 `default:"10"`
	}
	Metrics struct {
		Port string `default:"9090"`
	}
	Log struct {
		Human bool `default:"false"`
		Debug bool `default:"false"`
	}
	Chain struct {
		ID                  int64  `default:"1337"`
		EthEndpoint         string `default:"http://localhost:8545"`
		MaxCallsPerInterval uint64 `default:"20"`
		CallsInterval       string `default:"1s"`
	}
	Signer struct {
		// PrivateKeys is a comma separated list of hex encoded keys.
		PrivateKeys string `default:""`
	}
	Contract struct {
		ABIPath string `default:""`
	}
	DB struct {
		Path string `default:"tradesubmit.db?_busy_timeout=5000&_journal_mode=WAL"`
	}
	Fees struct {
		SlowPercent   int64  `default:"90"`
		NormalPercent int64  `default:"100"`
		FastPercent   int64  `default:"150"`
		BumpPercent   int64  `default:"110"`
		MaxFeeCap     string `default:"500000000000"` // wei
		GasLimit      uint64 `default:"300000"`
	}
	Pipeline struct {
		BroadcastAttempts   int    `default:"5"`
		BroadcastBackoff    string `default:"250ms"`
		MaxBroadcastBackoff string `default:"5s"`
		MaxRebids           int    `default:"5"`
		MaxNonceRetries     int    `default:"3"`
		DefaultDeadline     string `default:"10m"`
	}
	Watcher struct {
		PollInterval  string `default:"5s"`
		GracePeriod   string `default:"1m"`
		RequiredDepth uint64 `default:"1"`
	}
}

func setupConfig() *config {
	conf := &config{}
	confFiles := uconfig.Files{
		{configFilename, json.Unmarshal},
	}

	c, err := uconfig.Classic(&conf, confFiles)
	if err != nil {
		c.Usage()
		os.Exit(1)
	}

	return conf
}

// privateKeys returns the configured signing keys. PRIVATE_KEY is honored when
// no key list is configured.
func (c *config) privateKeys() []string {
	raw := c.Signer.PrivateKeys
	if raw == "" {
		raw = os.Getenv("PRIVATE_KEY")
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *config) maxFeeCap() (*big.Int, error) {
	if c.Fees.MaxFeeCap == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(c.Fees.MaxFeeCap, 10)
	if !ok {
		return nil, fmt.Errorf("invalid max fee cap %q", c.Fees.MaxFeeCap)
	}
	return v, nil
}

type durations struct {
	rateLimInterval     time.Duration
	callsInterval       time.Duration
	broadcastBackoff    time.Duration
	maxBroadcastBackoff time.Duration
	defaultDeadline     time.Duration
	pollInterval        time.Duration
	gracePeriod         time.Duration
}

func (c *config) durations() (durations, error) {
	var d durations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"HTTP.RateLimInterval", c.HTTP.RateLimInterval, &d.rateLimInterval},
		{"Chain.CallsInterval", c.Chain.CallsInterval, &d.callsInterval},
		{"Pipeline.BroadcastBackoff", c.Pipeline.BroadcastBackoff, &d.broadcastBackoff},
		{"Pipeline.MaxBroadcastBackoff", c.Pipeline.MaxBroadcastBackoff, &d.maxBroadcastBackoff},
		{"Pipeline.DefaultDeadline", c.Pipeline.DefaultDeadline, &d.defaultDeadline},
		{"Watcher.PollInterval", c.Watcher.PollInterval, &d.pollInterval},
		{"Watcher.GracePeriod", c.Watcher.GracePeriod, &d.gracePeriod},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.value)
		if err != nil {
			return durations{}, fmt.Errorf("parsing %s: %s", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}
