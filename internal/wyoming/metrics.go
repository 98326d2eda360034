package wyoming

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments the protocol surface reports through. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connActive   metric.Int64UpDownCounter
	connErrors   metric.Int64Counter
	ttsSessions  metric.Int64Counter
	sttSessions  metric.Int64Counter
	synthSeconds metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.connActive, err = meter.Int64UpDownCounter("voxway_connections_active"); err != nil {
		return nil, err
	}
	if m.connErrors, err = meter.Int64Counter("voxway_connection_errors_total"); err != nil {
		return nil, err
	}
	if m.ttsSessions, err = meter.Int64Counter("voxway_tts_sessions_total"); err != nil {
		return nil, err
	}
	if m.sttSessions, err = meter.Int64Counter("voxway_stt_sessions_total"); err != nil {
		return nil, err
	}
	if m.synthSeconds, err = meter.Float64Histogram("voxway_synthesis_seconds"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) connOpened(ctx context.Context) {
	if m != nil {
		m.connActive.Add(ctx, 1)
	}
}

func (m *Metrics) connClosed(ctx context.Context) {
	if m != nil {
		m.connActive.Add(ctx, -1)
	}
}

func (m *Metrics) connError(ctx context.Context) {
	if m != nil {
		m.connErrors.Add(ctx, 1)
	}
}

func (m *Metrics) ttsSession(ctx context.Context) {
	if m != nil {
		m.ttsSessions.Add(ctx, 1)
	}
}

func (m *Metrics) sttSession(ctx context.Context) {
	if m != nil {
		m.sttSessions.Add(ctx, 1)
	}
}

func (m *Metrics) synthDuration(ctx context.Context, seconds float64) {
	if m != nil {
		m.synthSeconds.Record(ctx, seconds)
	}
}
