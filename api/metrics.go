package api

import (
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type eventMetrics struct {
	logger         *log.Logger
	start          time.Time
	event          string
	conn           string
	owner          string
	mutateDuration time.Duration
	duplicate      bool
	errorStage     string
}

func newEventMetrics(logger *log.Logger, conn string) *eventMetrics {
	return &eventMetrics{
		logger: logger,
		start:  time.Now(),
		conn:   conn,
	}
}

func (m *eventMetrics) SetEvent(event string) { m.event = event }

func (m *eventMetrics) SetOwner(owner string) { m.owner = owner }

func (m *eventMetrics) ObserveMutate(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.mutateDuration = duration
}

func (m *eventMetrics) SetDuplicate() { m.duplicate = true }

func (m *eventMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *eventMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"event":    m.event,
		"conn":     m.conn,
		"ok":       err == nil,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.owner != "" {
		fields["owner"] = m.owner
	}
	if m.mutateDuration > 0 {
		fields["mutate_ms"] = durationToMillis(m.mutateDuration)
	}
	if m.duplicate {
		fields["duplicate"] = true
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["error_code"] = domain.ErrorCode(err)
	}

	m.logger.WithFields(fields).Info("socket.event.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
