// Package cli implements the operator shell described in SPEC_FULL.md §6: a
// line-oriented REPL over the running process, built on cobra the way the
// teacher's batch tools build subcommand trees, except the commands here
// read and mutate live in-process components instead of exiting per
// invocation.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/arbtrader/arbtrader/internal/config"
	"github.com/arbtrader/arbtrader/internal/supervisor"
	"github.com/arbtrader/arbtrader/internal/types"
	"github.com/arbtrader/arbtrader/internal/venue"
)

// CircuitBreaker is the subset of circuitbreaker.Breaker the shell drives.
type CircuitBreaker interface {
	IsPaused() bool
	Pause(reason string)
	Resume()
}

// Engine is the subset of execution.Engine the shell drives.
type Engine interface {
	Mode() types.OperatingMode
	SetMode(types.OperatingMode)
}

// Matcher is the subset of matcher.Matcher the shell reads.
type Matcher interface {
	ActiveMappings() []types.EventMapping
}

// Detector is the subset of detector.Detector the shell reads.
type Detector interface {
	Cached(mappingID string, now time.Time) (types.Opportunity, bool)
}

// Risk is the subset of risk.Manager the shell reads.
type Risk interface {
	Positions() []types.Position
	TotalExposure() decimal.Decimal
	DailyPnL() decimal.Decimal
}

// Supervisor is the subset of supervisor.Supervisor the shell reads and
// triggers.
type Supervisor interface {
	Health() supervisor.Health
	ScanOnce(ctx context.Context)
	Start(ctx context.Context)
}

// Shell is the operator REPL. It owns no business logic; every command
// delegates to one of the live components wired in at construction.
type Shell struct {
	cfg        *config.Config
	sup        Supervisor
	cb         CircuitBreaker
	engine     Engine
	matcher    Matcher
	detector   Detector
	risk       Risk
	v1, v2     venue.Adapter
	log        zerolog.Logger
	out        io.Writer
	root       *cobra.Command
	quit       bool
	ctx        context.Context
}

// Deps bundles every component the shell needs read or write access to.
type Deps struct {
	Config   *config.Config
	Sup      Supervisor
	CB       CircuitBreaker
	Engine   Engine
	Matcher  Matcher
	Detector Detector
	Risk     Risk
	V1, V2   venue.Adapter
}

// New builds a Shell writing to out.
func New(deps Deps, log zerolog.Logger, out io.Writer) *Shell {
	s := &Shell{
		cfg:      deps.Config,
		sup:      deps.Sup,
		cb:       deps.CB,
		engine:   deps.Engine,
		matcher:  deps.Matcher,
		detector: deps.Detector,
		risk:     deps.Risk,
		v1:       deps.V1,
		v2:       deps.V2,
		log:      log.With().Str("component", "cli").Logger(),
		out:      out,
	}
	s.root = s.buildRootCommand()
	return s
}

// Run reads one command per line from in until EOF, `quit`, or ctx
// cancellation, executing each line against the live components.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	s.ctx = ctx
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(s.out, "arbtrader operator shell — type `quit` to exit")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.dispatch(line); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if s.quit {
			return nil
		}
	}
}

func (s *Shell) dispatch(line string) error {
	args := strings.Fields(line)
	s.root.SetArgs(args)
	s.root.SetOut(s.out)
	s.root.SetErr(s.out)
	return s.root.Execute()
}

func (s *Shell) buildRootCommand() *cobra.Command {
	root := &cobra.Command{Use: "arbtrader", SilenceUsage: true, SilenceErrors: true}

	root.AddCommand(
		&cobra.Command{Use: "status", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdStatus() }},
		&cobra.Command{Use: "health", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdHealth() }},
		&cobra.Command{Use: "positions", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdPositions() }},
		&cobra.Command{Use: "balance", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdBalance() }},
		&cobra.Command{Use: "start", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdStart() }},
		&cobra.Command{Use: "pause", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdPause() }},
		&cobra.Command{Use: "resume", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdResume() }},
		&cobra.Command{Use: "dry-run", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdDryRun() }},
		&cobra.Command{Use: "scan", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdScan() }},
		&cobra.Command{Use: "mappings", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdMappings() }},
		&cobra.Command{Use: "opportunities", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdOpportunities() }},
		&cobra.Command{Use: "config", RunE: func(cmd *cobra.Command, args []string) error { return s.cmdConfig() }},
		s.buildLiveCommand(),
		&cobra.Command{Use: "quit", RunE: func(cmd *cobra.Command, args []string) error {
			s.quit = true
			fmt.Fprintln(s.out, "shutting down")
			return nil
		}},
	)
	return root
}

func (s *Shell) buildLiveCommand() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use: "live",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to switch to live mode without --confirm")
			}
			s.engine.SetMode(types.ModeLive)
			fmt.Fprintln(s.out, "mode: live")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "required to leave dry-run mode")
	return cmd
}

func (s *Shell) cmdStatus() error {
	h := s.sup.Health()
	fmt.Fprintf(s.out, "mode:            %s\n", s.engine.Mode())
	fmt.Fprintf(s.out, "circuit breaker: paused=%v\n", h.Paused)
	fmt.Fprintf(s.out, "daily pnl:       %s\n", h.DailyPnL.StringFixed(4))
	fmt.Fprintf(s.out, "total exposure:  %s\n", s.risk.TotalExposure().StringFixed(2))
	fmt.Fprintf(s.out, "positions:       %d\n", len(s.risk.Positions()))
	fmt.Fprintf(s.out, "active mappings: %d\n", h.ActiveMappings)
	fmt.Fprintf(s.out, "scan count:      %d\n", h.ScanCount)
	return nil
}

func (s *Shell) cmdHealth() error {
	h := s.sup.Health()
	fmt.Fprintf(s.out, "running:   %v\n", h.Running)
	fmt.Fprintf(s.out, "last scan: %s\n", h.LastScanAt.Format(time.RFC3339))
	if h.LastScanErr != "" {
		fmt.Fprintf(s.out, "last scan error: %s\n", h.LastScanErr)
	} else {
		fmt.Fprintln(s.out, "last scan error: none")
	}
	return nil
}

func (s *Shell) cmdPositions() error {
	positions := s.risk.Positions()
	if len(positions) == 0 {
		fmt.Fprintln(s.out, "no open positions")
		return nil
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	for _, p := range positions {
		fmt.Fprintf(s.out, "%-6s %-20s %-4s qty=%-12s avg_price=%s\n", p.Venue, p.Contract, p.Side, p.Quantity.StringFixed(2), p.AvgPrice.StringFixed(4))
	}
	return nil
}

func (s *Shell) cmdBalance() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, adapter := range []venue.Adapter{s.v1, s.v2} {
		if adapter == nil {
			continue
		}
		balances, err := adapter.GetBalances(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "%s: error: %v\n", adapter.Venue(), err)
			continue
		}
		for asset, amount := range balances {
			fmt.Fprintf(s.out, "%s %-8s %s\n", adapter.Venue(), asset, amount.StringFixed(4))
		}
	}
	return nil
}

// cmdStart launches the scan loop by hand, for the case where it was held
// back at boot pending manual review (stale state, a circuit breaker paused
// on restart, or unhedged positions recovered from disk). Idempotent:
// Supervisor.Start no-ops if the loop is already running.
func (s *Shell) cmdStart() error {
	s.sup.Start(s.ctx)
	fmt.Fprintln(s.out, "scan loop started")
	return nil
}

func (s *Shell) cmdPause() error {
	s.cb.Pause("manual")
	fmt.Fprintln(s.out, "paused")
	return nil
}

// cmdResume clears a paused circuit breaker and also brings up a scan loop
// that was held back at boot; Supervisor.Start no-ops if it is running.
func (s *Shell) cmdResume() error {
	if s.cb.IsPaused() {
		s.cb.Resume()
		fmt.Fprintln(s.out, "resumed")
	} else {
		fmt.Fprintln(s.out, "not paused")
	}
	s.sup.Start(s.ctx)
	return nil
}

func (s *Shell) cmdDryRun() error {
	s.engine.SetMode(types.ModeDryRun)
	fmt.Fprintln(s.out, "mode: dry_run")
	return nil
}

func (s *Shell) cmdScan() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.sup.ScanOnce(ctx)
	fmt.Fprintln(s.out, "scan complete; see `opportunities` for results")
	return nil
}

func (s *Shell) cmdMappings() error {
	mappings := s.matcher.ActiveMappings()
	if len(mappings) == 0 {
		fmt.Fprintln(s.out, "no active mappings")
		return nil
	}
	for _, m := range mappings {
		fmt.Fprintf(s.out, "%-36s %-24s <-> %-24s confidence=%s method=%s\n", m.ID, m.V1Contract, m.V2Contract, m.Confidence.StringFixed(2), m.Method)
	}
	return nil
}

func (s *Shell) cmdOpportunities() error {
	now := time.Now().UTC()
	found := false
	for _, m := range s.matcher.ActiveMappings() {
		opp, ok := s.detector.Cached(m.ID, now)
		if !ok {
			continue
		}
		found = true
		fmt.Fprintf(s.out, "%-36s buy=%s@%s sell=%s@%s net/unit=%s max_qty=%s risk=%s\n",
			m.ID, opp.BuyVenue, opp.BuyPrice.StringFixed(4), opp.SellVenue, opp.SellPrice.StringFixed(4),
			opp.NetProfitPerUnit.StringFixed(4), opp.MaxQty.StringFixed(2), opp.ExecutionRisk.StringFixed(2))
	}
	if !found {
		fmt.Fprintln(s.out, "no cached opportunities")
	}
	return nil
}

func (s *Shell) cmdConfig() error {
	fmt.Fprintf(s.out, "operating_mode:           %s\n", s.cfg.OperatingMode)
	fmt.Fprintf(s.out, "max_slippage:             %s\n", s.cfg.MaxSlippage.StringFixed(4))
	fmt.Fprintf(s.out, "min_profit_threshold:     %s\n", s.cfg.Risk.MinProfitThreshold.StringFixed(4))
	fmt.Fprintf(s.out, "max_total_exposure:       %s\n", s.cfg.Risk.MaxTotalExposure.StringFixed(2))
	fmt.Fprintf(s.out, "max_exposure_per_event:   %s\n", s.cfg.Risk.MaxExposurePerEvent.StringFixed(2))
	fmt.Fprintf(s.out, "max_position_imbalance:   %s\n", s.cfg.Risk.MaxPositionImbalance.StringFixed(2))
	fmt.Fprintf(s.out, "daily_loss_limit:         %s\n", s.cfg.Risk.DailyLossLimit.StringFixed(2))
	fmt.Fprintf(s.out, "min_confidence_threshold: %s\n", s.cfg.Matcher.MinConfidenceThreshold.StringFixed(2))
	fmt.Fprintf(s.out, "fuzzy_threshold:          %s\n", s.cfg.Matcher.FuzzyThreshold.StringFixed(2))
	fmt.Fprintf(s.out, "opportunity_ttl:          %s\n", s.cfg.OpportunityTTL)
	fmt.Fprintf(s.out, "require_manual_review:    %v\n", s.cfg.RequireManualReview)
	return nil
}
