package config

// Fees configures the protocol fee schedule applied when an escrow is funded.
type Fees struct {
	BurnBps        uint32 `toml:"BurnBps"`
	ChainBps       uint32 `toml:"ChainBps"`
	WarchestBps    uint32 `toml:"WarchestBps"`
	ArbitrationBps uint32 `toml:"ArbitrationBps"`
	// SettlementToken, when set, is the asset fees settle in; trades in any
	// other token pay the conversion and slippage components.
	SettlementToken string `toml:"SettlementToken"`
	// Method selects the calculator: "percentage" or "dynamic".
	Method            string `toml:"Method"`
	ChainCollector    string `toml:"ChainCollector"`
	WarchestCollector string `toml:"WarchestCollector"`
}

// Limits bound the USD value of a single trade, in whole dollars.
type Limits struct {
	MinUSD uint64 `toml:"MinUSD"`
	MaxUSD uint64 `toml:"MaxUSD"`
}

// Timers are expressed in seconds.
type Timers struct {
	ExpirationSecs int64 `toml:"ExpirationSecs"`
	DisputeSecs    int64 `toml:"DisputeSecs"`
	CloseGraceSecs int64 `toml:"CloseGraceSecs"`
	// SweepIntervalSecs is how often the daemon expires and refunds overdue
	// trades. Zero disables the sweeper.
	SweepIntervalSecs int64 `toml:"SweepIntervalSecs"`
	SweepBatchSize    int   `toml:"SweepBatchSize"`
}

// Pauses stop individual modules without restarting the daemon.
type Pauses struct {
	Trade  bool `toml:"Trade"`
	Offers bool `toml:"Offers"`
}

// Quotas define per-address daily caps. Zero disables a cap.
type Quotas struct {
	CreatePerDay  uint32 `toml:"CreatePerDay"`
	DisputePerDay uint32 `toml:"DisputePerDay"`
}

// Auth holds the shared secrets for RPC callers and internal capability
// tokens.
type Auth struct {
	JWTSecret        string `toml:"JWTSecret"`
	JWTIssuer        string `toml:"JWTIssuer"`
	CapabilitySecret string `toml:"CapabilitySecret"`
	CapabilityTTL    int64  `toml:"CapabilityTTLSeconds"`
	// OperatorSubjects may call operator-only methods such as price_update.
	OperatorSubjects []string `toml:"OperatorSubjects"`
}

// Arbitration selects how arbitrators are assigned to new trades.
type Arbitration struct {
	// Selector is "default" or "weighted".
	Selector          string `toml:"Selector"`
	DefaultArbitrator string `toml:"DefaultArbitrator"`
	// Randomness is "vrf", "commit_reveal" or "fallback" for the weighted
	// selector.
	Randomness string `toml:"Randomness"`
}

// Prices configures the guard rails of the in-process price book.
type Prices struct {
	MaxAgeSeconds   uint32 `toml:"MaxAgeSeconds"`
	MaxDeviationBps uint32 `toml:"MaxDeviationBps"`
	Window          int    `toml:"Window"`
}

// Token overrides the decimals of a settlement token.
type Token struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	ReadHeaderTimeout int     `toml:"ReadHeaderTimeout"`
	ReadTimeout       int     `toml:"ReadTimeout"`
	WriteTimeout      int     `toml:"WriteTimeout"`
	RateLimit         float64 `toml:"RateLimitPerSecond"`
	RateBurst         int     `toml:"RateBurst"`
	MaxBodyBytes      int64   `toml:"MaxBodyBytes"`
	MaxConnections    int     `toml:"MaxConnections"`
}

// Telemetry configures the OTLP exporter.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	// SampleRatio keeps this share of root traces; 0 keeps all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Events configures the SQLite event journal.
type Events struct {
	Path string `toml:"Path"`
}
