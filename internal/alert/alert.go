// Package alert implements the operator-notification surface referenced
// throughout SPEC_FULL.md (circuit breaker pause, asymmetric execution,
// trade_executed) as the SUPPLEMENTED FEATURES §10 alert-severity model:
// low/medium/high/critical/fatal, fanned out to every configured sink.
package alert

import "github.com/rs/zerolog"

// Severity is the alert priority tier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)

// Sink is one notification channel (Telegram, structured log, ...).
type Sink interface {
	Notify(severity, title, detail string)
}

// Alerter fans a notification out to every registered sink. A failure in
// one sink must never block another — SPEC_FULL.md §7 treats the alerting
// path as best-effort, never blocking trading.
type Alerter struct {
	sinks []Sink
	log   zerolog.Logger
}

// New creates an Alerter over the given sinks, in the order they should
// fire.
func New(log zerolog.Logger, sinks ...Sink) *Alerter {
	return &Alerter{sinks: sinks, log: log.With().Str("component", "alert").Logger()}
}

// Notify fans the message out to every sink, isolating panics so one
// misbehaving sink (e.g. a Telegram API outage) cannot take down another.
func (a *Alerter) Notify(severity, title, detail string) {
	for _, s := range a.sinks {
		a.dispatch(s, severity, title, detail)
	}
}

func (a *Alerter) dispatch(s Sink, severity, title, detail string) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("title", title).Msg("alert sink panicked")
		}
	}()
	s.Notify(severity, title, detail)
}
