package alert

import "github.com/rs/zerolog"

// LogSink is the always-on fallback sink: every alert lands in the
// structured log regardless of whether Telegram is configured, so nothing
// is silently dropped if the chat integration is down or unset.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alert.log").Logger()}
}

func (s *LogSink) Notify(severity, title, detail string) {
	var event *zerolog.Event
	switch Severity(severity) {
	case SeverityFatal, SeverityCritical:
		event = s.log.Error()
	case SeverityHigh, SeverityMedium:
		event = s.log.Warn()
	default:
		event = s.log.Info()
	}
	event.Str("severity", severity).Str("title", title).Msg(detail)
}
