package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"localmoney/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress       string `toml:"ListenAddress"`
	DataDir             string `toml:"DataDir"`
	Environment         string `toml:"Environment"`
	OperatorKeystore    string `toml:"OperatorKeystorePath"`
	OperatorPassphrase  string `toml:"OperatorPassphraseEnv"`
	SystemAddress       string `toml:"SystemAddress"`
	DevFaucet           bool   `toml:"DevFaucet"`
	DefaultTokenDecimal uint8  `toml:"DefaultTokenDecimals"`

	Fees        Fees        `toml:"fees"`
	Limits      Limits      `toml:"limits"`
	Timers      Timers      `toml:"timers"`
	Quotas      Quotas      `toml:"quotas"`
	Pauses      Pauses      `toml:"pauses"`
	Auth        Auth        `toml:"auth"`
	Arbitration Arbitration `toml:"arbitration"`
	Prices      Prices      `toml:"prices"`
	Tokens      []Token     `toml:"tokens"`
	RPC         RPC         `toml:"rpc"`
	Telemetry   Telemetry   `toml:"telemetry"`
	Logging     Logging     `toml:"logging"`
	Events      Events      `toml:"events"`
}

// Default returns the configuration written for a fresh installation, minus
// the generated secrets and keystore.
func Default() *Config {
	return &Config{
		ListenAddress:       ":8645",
		DataDir:             "./localmoney-data",
		Environment:         "dev",
		OperatorPassphrase:  "LOCALMONEY_OPERATOR_PASSPHRASE",
		DefaultTokenDecimal: 6,
		Fees: Fees{
			BurnBps:     100,
			ChainBps:    50,
			WarchestBps: 50,
			Method:      "percentage",
		},
		Limits: Limits{MinUSD: 1, MaxUSD: 100_000},
		Timers: Timers{
			ExpirationSecs:    2 * 86_400,
			DisputeSecs:       86_400,
			CloseGraceSecs:    7 * 86_400,
			SweepIntervalSecs: 60,
			SweepBatchSize:    100,
		},
		Quotas: Quotas{CreatePerDay: 20, DisputePerDay: 5},
		Auth: Auth{
			JWTIssuer:     "localmoney",
			CapabilityTTL: 60,
		},
		Arbitration: Arbitration{Selector: "weighted", Randomness: "vrf"},
		Prices:      Prices{MaxAgeSeconds: 600, MaxDeviationBps: 2_000, Window: 8},
		Tokens:      []Token{},
		RPC: RPC{
			ReadHeaderTimeout: 5,
			ReadTimeout:       15,
			WriteTimeout:      15,
			RateLimit:         20,
			RateBurst:         40,
			MaxBodyBytes:      1 << 20,
			MaxConnections:    512,
		},
		Telemetry: Telemetry{Endpoint: "localhost:4318", Insecure: true},
		Logging:   Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Events:    Events{Path: "events.db"},
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults, fresh secrets and a new operator keystore.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []Token{}
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath joins relative paths onto DataDir.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// Passphrase reads the operator keystore passphrase from the configured
// environment variable.
func (c *Config) Passphrase() string {
	if c.OperatorPassphrase == "" {
		return ""
	}
	return os.Getenv(c.OperatorPassphrase)
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystore
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, cfg.Passphrase()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystore != keystorePath {
		cfg.OperatorKeystore = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	var err error
	if cfg.Auth.JWTSecret, err = randomSecret(); err != nil {
		return nil, err
	}
	if cfg.Auth.CapabilitySecret, err = randomSecret(); err != nil {
		return nil, err
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, cfg.Passphrase()); err != nil {
		return nil, err
	}
	cfg.OperatorKeystore = keystorePath
	operator := key.PubKey().Address().String()
	cfg.Fees.ChainCollector = operator
	cfg.Fees.WarchestCollector = operator

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
