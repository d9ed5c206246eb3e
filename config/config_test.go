package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"localmoney/crypto"
	"localmoney/native/fees"
)

var testCollector = func() [20]byte {
	var addr [20]byte
	addr[0] = 0x42
	addr[len(addr)-1] = 0x24
	return addr
}()

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = "rpc-secret-0123456789"
	cfg.Auth.CapabilitySecret = "capability-secret-0123"
	cfg.Fees.ChainCollector = crypto.FormatAddress(testCollector)
	cfg.Fees.WarchestCollector = crypto.FormatAddress(testCollector)
	return cfg
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(dir, "operator.keystore"))
	require.Len(t, cfg.Auth.JWTSecret, 64)
	require.NotEqual(t, cfg.Auth.JWTSecret, cfg.Auth.CapabilitySecret)
	require.NoError(t, ValidateConfig(cfg))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.JWTSecret, reloaded.Auth.JWTSecret)
	require.Equal(t, cfg.Fees.ChainCollector, reloaded.Fees.ChainCollector)
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	collector := crypto.FormatAddress(testCollector)
	contents := fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
Environment = "staging"

[fees]
BurnBps = 200
ChainBps = 100
WarchestBps = 0
ArbitrationBps = 150
Method = "dynamic"
ChainCollector = "%s"

[limits]
MinUSD = 5
MaxUSD = 5000

[timers]
ExpirationSecs = 7200
DisputeSecs = 3600
CloseGraceSecs = 60

[quotas]
CreatePerDay = 3

[pauses]
Offers = true

[auth]
JWTSecret = "rpc-secret-0123456789"
CapabilitySecret = "capability-secret-0123"
OperatorSubjects = ["ops"]

[arbitration]
Selector = "default"
DefaultArbitrator = "%s"

[[tokens]]
Symbol = "usdc"
Decimals = 6

[[tokens]]
Symbol = "WBTC"
Decimals = 8
`, collector, collector)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, []string{"ops"}, cfg.Auth.OperatorSubjects)
	require.True(t, cfg.Pauses.IsPaused(ModuleOffers))
	require.False(t, cfg.Pauses.IsPaused(ModuleTrade))
	require.Equal(t, map[string]uint8{"USDC": 6, "WBTC": 8}, cfg.TokenDecimals())
	require.Equal(t, filepath.Join("data", "events.db"), cfg.ResolvePath(cfg.Events.Path))
	require.FileExists(t, filepath.Join(dir, "operator.keystore"))

	settings, err := cfg.HubSettings()
	require.NoError(t, err)
	require.Equal(t, fees.Schedule{BurnBps: 200, ChainBps: 100, ArbitrationBps: 150}, settings.Fees)
	require.Equal(t, testCollector, settings.Collectors.Chain)
	require.Equal(t, int64(3600), settings.Timers.DisputeSecs)
	require.Equal(t, uint64(5), settings.Limits.MinUSD)

	calc, err := cfg.Fees.Calculator()
	require.NoError(t, err)
	require.Equal(t, fees.MethodDynamic, calc.Method())

	arb, err := cfg.DefaultArbitrator()
	require.NoError(t, err)
	require.Equal(t, testCollector, arb)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))

	cases := map[string]func(c *Config){
		"burn above component ceiling": func(c *Config) { c.Fees.BurnBps = 1_001 },
		"unknown fee method":           func(c *Config) { c.Fees.Method = "flat" },
		"missing chain collector":      func(c *Config) { c.Fees.ChainCollector = "" },
		"garbage collector":            func(c *Config) { c.Fees.WarchestCollector = "lm1nope" },
		"zero min usd":                 func(c *Config) { c.Limits.MinUSD = 0 },
		"min above max":                func(c *Config) { c.Limits.MinUSD = c.Limits.MaxUSD + 1 },
		"zero expiration":              func(c *Config) { c.Timers.ExpirationSecs = 0 },
		"dispute after expiration":     func(c *Config) { c.Timers.DisputeSecs = c.Timers.ExpirationSecs + 1 },
		"short jwt secret":             func(c *Config) { c.Auth.JWTSecret = "short" },
		"shared secrets":               func(c *Config) { c.Auth.CapabilitySecret = c.Auth.JWTSecret },
		"unknown selector":             func(c *Config) { c.Arbitration.Selector = "random" },
		"default without arbitrator":   func(c *Config) { c.Arbitration.Selector = "default" },
		"unknown randomness":           func(c *Config) { c.Arbitration.Randomness = "dice" },
		"sample ratio above one":       func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"token decimals":               func(c *Config) { c.Tokens = []Token{{Symbol: "X", Decimals: 13}} },
		"empty token symbol":           func(c *Config) { c.Tokens = []Token{{Decimals: 6}} },
		"negative rate":                func(c *Config) { c.RPC.RateLimit = -1 },
		"negative connections":         func(c *Config) { c.RPC.MaxConnections = -1 },
		"empty listen address":         func(c *Config) { c.ListenAddress = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, "1m0s", cfg.CapabilityTTL().String())
	cfg.Auth.CapabilityTTL = 0
	require.Equal(t, "1m0s", cfg.CapabilityTTL().String())
	cfg.Timers.SweepIntervalSecs = 0
	require.Zero(t, cfg.SweepInterval())
}
