package config

import (
	"fmt"
	"strings"

	"localmoney/native/fees"
)

var (
	MinSecretLength  = 16
	MaxTokenDecimals = uint8(12)
)

func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.DefaultTokenDecimal > MaxTokenDecimals {
		return fmt.Errorf("config: DefaultTokenDecimals %d exceeds %d", c.DefaultTokenDecimal, MaxTokenDecimals)
	}
	if err := c.Fees.Schedule().Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if _, err := fees.ParseMethod(c.Fees.Method); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	settings, err := c.HubSettings()
	if err != nil {
		return err
	}
	if c.Fees.ChainBps > 0 && settings.Collectors.Chain == ([20]byte{}) {
		return fmt.Errorf("fees: ChainCollector required when ChainBps > 0")
	}
	if c.Fees.WarchestBps > 0 && settings.Collectors.Warchest == ([20]byte{}) {
		return fmt.Errorf("fees: WarchestCollector required when WarchestBps > 0")
	}
	if c.Limits.MinUSD == 0 || c.Limits.MinUSD > c.Limits.MaxUSD {
		return fmt.Errorf("limits: min_usd zero or above max_usd")
	}
	if c.Timers.SweepIntervalSecs < 0 || c.Timers.SweepBatchSize < 0 {
		return fmt.Errorf("timers: sweep settings must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth: JWTSecret shorter than %d characters", MinSecretLength)
	}
	if len(c.Auth.CapabilitySecret) < MinSecretLength {
		return fmt.Errorf("auth: CapabilitySecret shorter than %d characters", MinSecretLength)
	}
	if c.Auth.JWTSecret == c.Auth.CapabilitySecret {
		return fmt.Errorf("auth: JWTSecret and CapabilitySecret must differ")
	}
	switch strings.ToLower(strings.TrimSpace(c.Arbitration.Selector)) {
	case "default":
		arb, err := c.DefaultArbitrator()
		if err != nil {
			return err
		}
		if arb == ([20]byte{}) {
			return fmt.Errorf("arbitration: DefaultArbitrator required by the default selector")
		}
	case "weighted":
		switch strings.ToLower(strings.TrimSpace(c.Arbitration.Randomness)) {
		case "vrf", "commit_reveal", "fallback":
		default:
			return fmt.Errorf("arbitration: unknown randomness source %q", c.Arbitration.Randomness)
		}
	default:
		return fmt.Errorf("arbitration: unknown selector %q", c.Arbitration.Selector)
	}
	if c.Prices.Window < 0 {
		return fmt.Errorf("prices: window must not be negative")
	}
	if c.Prices.MaxDeviationBps > 10_000 {
		return fmt.Errorf("prices: max_deviation_bps above 10000")
	}
	for _, token := range c.Tokens {
		if strings.TrimSpace(token.Symbol) == "" {
			return fmt.Errorf("tokens: symbol required")
		}
		if token.Decimals > MaxTokenDecimals {
			return fmt.Errorf("tokens: %s decimals %d exceed %d", token.Symbol, token.Decimals, MaxTokenDecimals)
		}
	}
	if c.RPC.RateLimit < 0 || c.RPC.RateBurst < 0 || c.RPC.MaxBodyBytes < 0 || c.RPC.MaxConnections < 0 {
		return fmt.Errorf("rpc: limits must not be negative")
	}
	if _, err := c.System(); err != nil {
		return err
	}
	return nil
}
