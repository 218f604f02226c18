package alert

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct{ calls []string }

func (r *recordingSink) Notify(severity, title, detail string) {
	r.calls = append(r.calls, severity+":"+title)
}

type panickingSink struct{}

func (panickingSink) Notify(severity, title, detail string) { panic("sink exploded") }

func TestAlerter_FansOutToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	alerter := New(zerolog.Nop(), a, b)

	alerter.Notify("critical", "circuit breaker paused", "asymmetric_execution")

	require.Equal(t, []string{"critical:circuit breaker paused"}, a.calls)
	require.Equal(t, []string{"critical:circuit breaker paused"}, b.calls)
}

func TestAlerter_OnePanickingSinkDoesNotBlockTheOthers(t *testing.T) {
	after := &recordingSink{}
	alerter := New(zerolog.Nop(), panickingSink{}, after)

	require.NotPanics(t, func() {
		alerter.Notify("medium", "trade_executed", "m1")
	})
	require.Equal(t, []string{"medium:trade_executed"}, after.calls)
}
