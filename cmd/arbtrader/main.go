package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/alert"
	"github.com/arbtrader/arbtrader/internal/circuitbreaker"
	"github.com/arbtrader/arbtrader/internal/cli"
	"github.com/arbtrader/arbtrader/internal/config"
	"github.com/arbtrader/arbtrader/internal/detector"
	"github.com/arbtrader/arbtrader/internal/execution"
	"github.com/arbtrader/arbtrader/internal/matcher"
	"github.com/arbtrader/arbtrader/internal/repository"
	"github.com/arbtrader/arbtrader/internal/risk"
	"github.com/arbtrader/arbtrader/internal/state"
	"github.com/arbtrader/arbtrader/internal/supervisor"
	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
	v1 "github.com/arbtrader/arbtrader/internal/venue/v1"
	v2 "github.com/arbtrader/arbtrader/internal/venue/v2"
)

func main() {
	configPath := flag.String("config", "", "optional config file path")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("mode", string(cfg.OperatingMode)).Msg("arbtrader starting")

	// Layer 1: persistence.
	repo, err := repository.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open repository")
	}
	defer repo.Close()

	stateStore, err := state.Open(cfg.State.FilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	snapshot, err := stateStore.Load()
	if err != nil {
		log.Warn().Err(err).Msg("state snapshot load failed; starting from zero state")
	} else {
		log.Info().
			Str("daily_pnl", snapshot.DailyPnL.String()).
			Int("positions", len(snapshot.Positions)).
			Msg("state snapshot loaded")
	}

	// Layer 3: alerting.
	sinks := []alert.Sink{alert.NewLogSink(log)}
	if cfg.TelegramToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Warn().Err(err).Msg("telegram unavailable")
		} else {
			sinks = append(sinks, alert.NewTelegramSink(bot, cfg.TelegramChatID, log))
		}
	}
	alerter := alert.New(log, sinks...)

	// Layer 4: circuit breaker, wired to persist every pause/resume through
	// StateStore and fan out through the alerter.
	cb := circuitbreaker.New(circuitbreaker.Config{
		MaxConsecutiveFailures:  cfg.CB.MaxConsecutiveFailures,
		MaxAsymmetricExecutions: cfg.CB.MaxAsymmetricExecutions,
	}, log, func(s types.CircuitBreakerState) {
		if err := stateStore.Snapshot(stateStore.SetCB(s.Paused, s.Reason)); err != nil {
			log.Error().Err(err).Msg("failed to persist circuit breaker state")
		}
	}, alerter.Notify)
	if snapshot.CB.Paused {
		cb.Pause(snapshot.CB.Reason)
	}

	// Layer 2: venue adapters. Wired after the circuit breaker so a
	// reconnect-exhausted push feed can escalate straight to it.
	v1Adapter := buildV1Adapter(cfg, log, cb, alerter)
	v2Adapter := buildV2Adapter(cfg, log, cb, alerter)

	// Layer 5: risk manager, seeded from the recovered position ledger.
	riskMgr := risk.New(risk.Config{
		MaxTotalExposure:    cfg.Risk.MaxTotalExposure,
		MaxExposurePerEvent: cfg.Risk.MaxExposurePerEvent,
		MaxImbalance:        cfg.Risk.MaxPositionImbalance,
		DailyLossLimit:      cfg.Risk.DailyLossLimit,
		MinProfitThreshold:  cfg.Risk.MinProfitThreshold,
		MinQty:              cfg.Risk.MinQtyPerTrade,
		MaxQtyPerTrade:      cfg.Risk.MaxQtyPerTrade,
		MinTradeValue:       cfg.Risk.MinTradeValue,
		MinProfitAbs:        cfg.Risk.MinProfitAbs,
		MinLiquidityDepth:   cfg.Risk.MinLiquidityDepth,
		ExecutionRiskWarn:   cfg.Risk.ExecutionRiskWarn,
	}, log, cb)
	riskMgr.Reconcile(snapshot.Positions)
	riskMgr.RecordPnL(snapshot.DailyPnL)

	// Layer 6: matcher, hydrated from the persisted event-mapping table and
	// the synonym data asset.
	synonyms, err := matcher.LoadSynonyms(cfg.Matcher.SynonymsPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Matcher.SynonymsPath).Msg("failed to load synonym table; continuing without it")
	}
	eventMatcher := matcher.New(matcher.Config{
		FuzzyThreshold:          cfg.Matcher.FuzzyThreshold,
		MinConfidenceThreshold:  cfg.Matcher.MinConfidenceThreshold,
		RequireDateValidation:   cfg.Matcher.RequireDateValidation,
		RequireCategoryMatch:    cfg.Matcher.RequireCategoryMatch,
		DateTolerance:           time.Duration(cfg.Matcher.DateToleranceHours) * time.Hour,
	}, synonyms, repo)
	if err := eventMatcher.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load persisted event mappings")
	}

	// Layer 7: detector.
	det := detector.New(detector.Config{
		MinProfitThreshold: cfg.Risk.MinProfitThreshold,
		MinLiquidityDepth:  cfg.Risk.MinLiquidityDepth,
		OpportunityTTL:     cfg.OpportunityTTL,
		Fees: detector.FeeConfig{
			V1TakerRate:         cfg.Fees.V1TakerFeeRate,
			V1GasAmortizedUSD:   cfg.Fees.V1GasAmortizedUSD,
			V2FeeRate:           cfg.Fees.V2FeePct,
			V2FeeCapPerContract: cfg.Fees.V2FeeCap,
		},
	})

	// Layer 8: execution engine.
	engine := execution.New(execution.Config{
		Mode:              types.OperatingMode(cfg.OperatingMode),
		MaxSlippage:       cfg.MaxSlippage,
		EndToEndMaxMs:     time.Duration(cfg.Latency.EndToEndMaxMs) * time.Millisecond,
		OrderPlacementMax: time.Duration(cfg.Latency.OrderPlacementMaxMs) * time.Millisecond,
		ReconcileTimeout:  10 * time.Second,
	}, execution.Adapters{V1: v1Adapter, V2: v2Adapter}, riskMgr, cb, alerter, repo, det, log)

	// Layer 9: supervisor, the scan loop tying everything together.
	super := supervisor.New(supervisor.Config{ScanInterval: 2 * time.Second},
		supervisor.Adapters{V1: v1Adapter, V2: v2Adapter}, eventMatcher, det, engine, cb, stateStore, repo, log)

	if cfg.RequireManualReview && snapshot.CB.Paused {
		log.Warn().Msg("require_manual_review is set and the circuit breaker was paused on restart; staying paused until `resume`")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Crash-recovery gate (SPEC_FULL.md §11): never auto-start the scan loop
	// over state that hasn't been reviewed. A stale heartbeat, a breaker that
	// was paused when the process died, or an unhedged leg recovered from
	// disk all mean a human should look before trading resumes; the operator
	// brings it up with `start` once satisfied.
	if reasons := startupGateReasons(cfg, snapshot); len(reasons) > 0 {
		log.Warn().Strs("reasons", reasons).Msg("scan loop held back pending manual review; run `start` from the operator shell to begin trading")
	} else {
		super.Start(ctx)
	}
	go stateStore.RunAutoSave(ctx, cfg.State.AutoSaveInterval, func(err error) {
		log.Error().Err(err).Msg("auto-save failed")
		if failures := stateStore.IOFailures(); failures >= cfg.State.MaxIOFailures {
			cb.RecordFailure(types.FailureStateUnrec)
			alerter.Notify(string(alert.SeverityFatal), "state persistence unrecoverable",
				fmt.Sprintf("%d consecutive snapshot writes failed", failures))
		}
	})

	shell := cli.New(cli.Deps{
		Config:   cfg,
		Sup:      super,
		CB:       cb,
		Engine:   engine,
		Matcher:  eventMatcher,
		Detector: det,
		Risk:     riskMgr,
		V1:       v1Adapter,
		V2:       v2Adapter,
	}, log, os.Stdout)

	shellDone := make(chan struct{})
	go func() {
		defer close(shellDone)
		if err := shell.Run(ctx, os.Stdin); err != nil {
			log.Debug().Err(err).Msg("operator shell exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Warn().Msg("shutdown signal received")
	case <-shellDone:
		log.Info().Msg("quit command received")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	shutdownErr := super.Shutdown(shutdownCtx)
	_ = v1Adapter.Close()
	_ = v2Adapter.Close()
	if err := shutdownErr; err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

// startupGateReasons implements the crash-recovery gate of SPEC_FULL.md §11:
// the scan loop must not auto-start over state that hasn't been reviewed by
// a human. A non-empty result means `super.Start` is withheld until the
// operator issues `start` from the CLI shell.
func startupGateReasons(cfg *config.Config, snapshot state.Snapshot) []string {
	var reasons []string

	if cfg.State.MaxStateAgeMin > 0 {
		maxAge := time.Duration(cfg.State.MaxStateAgeMin) * time.Minute
		if age := snapshot.StateAge(time.Now().UTC()); age > maxAge {
			reasons = append(reasons, fmt.Sprintf("state age %s exceeds max_state_age_minutes (%d)",
				age.Round(time.Second), cfg.State.MaxStateAgeMin))
		}
	}

	if snapshot.CB.Paused {
		reasons = append(reasons, "circuit breaker was paused on restart")
	}

	if hasUnhedgedPositions(snapshot.Positions) {
		reasons = append(reasons, "unhedged open positions found in recovered state")
	}

	return reasons
}

// hasUnhedgedPositions groups recovered positions by mapping and flags any
// mapping whose V1 and V2 leg quantities don't match — a leg opened on one
// venue with no offsetting leg on the other.
func hasUnhedgedPositions(positions []types.Position) bool {
	v1Qty := make(map[string]decimal.Decimal)
	v2Qty := make(map[string]decimal.Decimal)
	for _, p := range positions {
		switch p.Venue {
		case types.VenueV1:
			v1Qty[p.MappingID] = v1Qty[p.MappingID].Add(p.Quantity)
		case types.VenueV2:
			v2Qty[p.MappingID] = v2Qty[p.MappingID].Add(p.Quantity)
		}
	}
	for mappingID, qty := range v1Qty {
		if !qty.Equal(v2Qty[mappingID]) {
			return true
		}
	}
	for mappingID, qty := range v2Qty {
		if !qty.Equal(v1Qty[mappingID]) {
			return true
		}
	}
	return false
}

func buildV1Adapter(cfg *config.Config, log zerolog.Logger, cb *circuitbreaker.Breaker, alerter *alert.Alerter) venue.Adapter {
	v1cfg := v1.Config{
		BaseURL: cfg.V1APIURL,
		Credentials: v1.Credentials{
			APIKey:     cfg.V1APIKey,
			APISecret:  cfg.V1APISecret,
			Passphrase: cfg.V1Passphrase,
		},
		DryRun:           cfg.OperatingMode != config.ModeLive,
		Timeout:          10 * time.Second,
		HeartbeatTimeout: cfg.Latency.HeartbeatTimeout,
		OnConnectionLost: func() {
			cb.RecordFailure(types.FailureConnLost)
			alerter.Notify(string(alert.SeverityHigh), "v1 websocket reconnect exhausted",
				"push feed gave up after its retry budget; book data is now poll-only")
		},
	}
	if cfg.WalletPrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.WalletPrivateKey)
		if err != nil {
			log.Warn().Err(err).Msg("failed to parse wallet private key; V1 adapter will run unsigned")
		} else {
			v1cfg.PrivateKey = key
			addr := crypto.PubkeyToAddress(key.PublicKey)
			v1cfg.SignerAddress = addr
			v1cfg.FunderAddress = addr
		}
	}
	return v1.NewClient(v1cfg, log)
}

func buildV2Adapter(cfg *config.Config, log zerolog.Logger, cb *circuitbreaker.Breaker, alerter *alert.Alerter) venue.Adapter {
	return v2.NewClient(v2.Config{
		BaseURL: cfg.V2APIURL,
		Credentials: v2.Credentials{
			APIKey:    cfg.V2APIKey,
			APISecret: cfg.V2APISecret,
		},
		DryRun:           cfg.OperatingMode != config.ModeLive,
		Timeout:          10 * time.Second,
		HeartbeatTimeout: cfg.Latency.HeartbeatTimeout,
		OnConnectionLost: func() {
			cb.RecordFailure(types.FailureConnLost)
			alerter.Notify(string(alert.SeverityHigh), "v2 websocket reconnect exhausted",
				"push feed gave up after its retry budget; book data is now poll-only")
		},
	}, log)
}
