package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"localmoney/config"
	"localmoney/core/events"
	"localmoney/core/pricing"
	"localmoney/core/state"
	"localmoney/crypto"
	"localmoney/native/arbitration"
	"localmoney/native/authz"
	"localmoney/native/escrow"
	"localmoney/native/hub"
	"localmoney/native/offers"
	"localmoney/native/reputation"
	"localmoney/rpc"
	"localmoney/storage"
	"localmoney/storage/eventlog"
)

const (
	stateDirName = "state"
	// commitTarget is how many unrevealed commitments the sweeper keeps ready
	// for the commit-reveal randomness source.
	commitTarget = 32
)

// daemon owns every long-lived component of the node.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      storage.Database
	state   *state.Manager
	journal *eventlog.Store
	engine  *escrow.Engine
	prices  *pricing.Book
	server  *rpc.Server
	system  [20]byte
	commits *arbitration.CommitRevealSource
	closers []io.Closer
}

func newDaemon(cfg *config.Config, key *crypto.PrivateKey, logger *slog.Logger) (*daemon, error) {
	if cfg == nil || key == nil {
		return nil, errors.New("localmoneyd: config and operator key are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &daemon{cfg: cfg, logger: logger}

	system, err := cfg.System()
	if err != nil {
		return nil, err
	}
	if system == ([20]byte{}) {
		system = key.PubKey().Address().Bytes()
	}
	d.system = system

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.ResolvePath(stateDirName))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	d.db = db
	d.state = state.NewManager(db)

	journal, err := eventlog.Open(cfg.ResolvePath(cfg.Events.Path))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	journal.SetLogger(logger.With(slog.String("component", "eventlog")))
	d.journal = journal
	d.closers = append(d.closers, journal)

	if err := d.buildEngine(key); err != nil {
		d.Close()
		return nil, err
	}

	d.server, err = rpc.NewServer(rpc.Deps{
		Engine:  d.engine,
		State:   d.state,
		Offers:  offers.NewBook(),
		Prices:  d.prices,
		Events:  journal,
		Pauses:  cfg.Pauses,
		Emitter: events.Fanout{journal},
		System:  d.system,
		Logger:  logger,
	}, rpc.Config{
		JWTSecret:        cfg.Auth.JWTSecret,
		JWTIssuer:        cfg.Auth.JWTIssuer,
		OperatorSubjects: cfg.Auth.OperatorSubjects,
		RateLimit:        cfg.RPC.RateLimit,
		RateBurst:        cfg.RPC.RateBurst,
		MaxBodyBytes:     cfg.RPC.MaxBodyBytes,
		MaxConnections:   cfg.RPC.MaxConnections,
		DevFaucet:        cfg.DevFaucet,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) buildEngine(key *crypto.PrivateKey) error {
	settings, err := d.cfg.HubSettings()
	if err != nil {
		return err
	}
	static, err := hub.NewStatic(settings)
	if err != nil {
		return err
	}
	calc, err := d.cfg.Fees.Calculator()
	if err != nil {
		return err
	}
	selector, err := d.selector(key)
	if err != nil {
		return err
	}
	verifier, err := authz.NewVerifier(d.cfg.Auth.CapabilitySecret, reputation.Audience, escrow.ModuleName)
	if err != nil {
		return err
	}
	sink, err := reputation.NewSink(verifier)
	if err != nil {
		return err
	}
	issuer, err := authz.NewIssuer(d.cfg.Auth.CapabilitySecret, escrow.ModuleName, d.cfg.CapabilityTTL())
	if err != nil {
		return err
	}

	d.prices = pricing.NewBook(d.cfg.PriceGuard())
	engine := escrow.NewEngine(d.state, static)
	engine.SetPriceFeed(d.prices)
	engine.SetSelector(selector)
	engine.SetCalculator(calc)
	if err := engine.SetProfiles(sink, issuer); err != nil {
		return err
	}
	engine.SetEmitter(d.journal)
	engine.SetPauses(d.cfg.Pauses)
	engine.SetQuotas(escrow.Quotas{
		CreatePerDay:  d.cfg.Quotas.CreatePerDay,
		DisputePerDay: d.cfg.Quotas.DisputePerDay,
	})
	engine.SetSystem(d.system)
	if err := engine.SetDefaultTokenDecimals(d.cfg.DefaultTokenDecimal); err != nil {
		return err
	}
	for token, decimals := range d.cfg.TokenDecimals() {
		if err := engine.SetTokenDecimals(token, decimals); err != nil {
			return err
		}
	}
	engine.SetLogger(d.logger.With(slog.String("component", escrow.ModuleName)))
	d.engine = engine
	return nil
}

func (d *daemon) selector(key *crypto.PrivateKey) (arbitration.Selector, error) {
	if strings.EqualFold(strings.TrimSpace(d.cfg.Arbitration.Selector), "default") {
		arb, err := d.cfg.DefaultArbitrator()
		if err != nil {
			return nil, err
		}
		return arbitration.DefaultSelector{Arbitrator: arb}, nil
	}
	var source arbitration.RandomnessSource
	switch strings.ToLower(strings.TrimSpace(d.cfg.Arbitration.Randomness)) {
	case "commit_reveal":
		d.commits = arbitration.NewCommitRevealSource()
		source = d.commits
	case "fallback":
		d.commits = arbitration.NewCommitRevealSource()
		source = arbitration.FallbackSource{d.commits, arbitration.NewVRFSource(key.PrivateKey)}
	default:
		source = arbitration.NewVRFSource(key.PrivateKey)
	}
	return arbitration.WeightedSelector{Source: source}, nil
}

// refillCommitments tops the commit-reveal pool back up to commitTarget.
func (d *daemon) refillCommitments() error {
	if d.commits == nil {
		return nil
	}
	return d.state.Atomic(func(tx *state.Tx) error {
		pending, err := d.commits.Pending(tx)
		if err != nil {
			return err
		}
		missing := commitTarget - pending
		if missing <= 0 {
			return nil
		}
		_, err = d.commits.Commit(tx, missing)
		return err
	})
}

// sweep runs one expiry pass as the system actor.
func (d *daemon) sweep() escrow.BatchResult {
	if err := d.refillCommitments(); err != nil {
		d.logger.Error("commitment refill failed", slog.Any("error", err))
	}
	result, err := d.engine.SweepExpired(d.system, d.cfg.Timers.SweepBatchSize)
	if err != nil {
		d.logger.Error("sweep failed", slog.Any("error", err))
		return result
	}
	if len(result.Succeeded) > 0 || len(result.Failed) > 0 {
		d.logger.Info("sweep completed",
			slog.Int("succeeded", len(result.Succeeded)),
			slog.Int("failed", len(result.Failed)))
	}
	for id, failure := range result.Errors {
		d.logger.Warn("sweep item failed", slog.Uint64("tradeid", id), slog.Any("error", failure))
	}
	return result
}

// runSweeper sweeps every interval until ctx is canceled.
func (d *daemon) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

// Run serves RPC and sweeps until ctx is canceled.
func (d *daemon) Run(ctx context.Context) error {
	if err := d.refillCommitments(); err != nil {
		return err
	}
	go d.runSweeper(ctx, d.cfg.SweepInterval())

	srv := &http.Server{
		Addr:              d.cfg.ListenAddress,
		ReadHeaderTimeout: seconds(d.cfg.RPC.ReadHeaderTimeout, 5),
		ReadTimeout:       seconds(d.cfg.RPC.ReadTimeout, 15),
		WriteTimeout:      seconds(d.cfg.RPC.WriteTimeout, 15),
	}
	return d.server.Serve(ctx, srv)
}

// Close releases the journal and the state database.
func (d *daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			d.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	d.closers = nil
	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
