package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservability_RecordsWithoutPanicking(t *testing.T) {
	o := New("drivethru-test")
	defer o.Shutdown()

	ctx, span := o.StartSpan(context.Background(), "turn")
	require.NotNil(t, span)
	defer span.End()

	assert.NotPanics(t, func() {
		o.RecordTurn(ctx, "add_item", "confirmation")
		o.RecordTurn(ctx, "unknown", "escalation")
		o.RecordTurnDuration(ctx, 25*time.Millisecond, "ok")
	})
}

func TestObservability_ZeroValueIsSafe(t *testing.T) {
	var o Observability
	assert.NotPanics(t, func() {
		_, span := o.StartSpan(context.Background(), "turn")
		span.End()
		o.RecordTurn(context.Background(), "greeting", "greeted")
		o.RecordTurnDuration(context.Background(), time.Millisecond, "ok")
		o.Shutdown()
	})
}

func TestNewJaegerTracer_RequiresEndpoint(t *testing.T) {
	_, _, err := NewJaegerTracer("svc", "")
	require.Error(t, err)
}
