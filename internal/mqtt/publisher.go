package mqtt

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
)

const (
	StatusTopic = "status"
	AlertsTopic = "alerts"
	FaultsTopic = "faults"
)

// Publisher is a control.Observer that forwards every event to the broker.
// Publishing never blocks the caller; delivery failures are logged.
type Publisher struct {
	client Client
	cfg    Config
	logger logger.Logger

	mu       sync.Mutex
	lastTime time.Time

	// closeMu orders inflight.Add against Close.
	closeMu  sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

func NewPublisher(client Client, cfg Config, log logger.Logger) *Publisher {
	return &Publisher{client: client, cfg: cfg, logger: log}
}

// Topic returns the full topic name for a suffix.
func (p *Publisher) Topic(suffix string) string {
	if p.cfg.TopicPrefix == "" {
		return suffix
	}
	return p.cfg.TopicPrefix + "/" + suffix
}

func (p *Publisher) OnStatus(status control.Status) {
	p.mu.Lock()
	p.lastTime = status.Time
	p.mu.Unlock()

	p.publish(StatusTopic, newStatusMessage(status))
}

func (p *Publisher) OnAlert(alert climate.Alert) {
	p.publish(AlertsTopic, alertMessage{
		Time:    p.eventTime(),
		Kind:    alert.Kind.String(),
		Value:   alert.Value,
		Message: alert.Message,
	})
}

func (p *Publisher) OnFault(fault errors.Error) {
	msg := newFaultMessage(fault)
	msg.Time = p.eventTime()
	p.publish(FaultsTopic, msg)
}

// Dropped returns how many messages were skipped while disconnected.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Failed returns how many published messages the broker did not confirm.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Flush waits up to timeout for outstanding deliveries.
func (p *Publisher) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close flushes outstanding deliveries and disconnects from the broker.
// Events arriving after Close are dropped.
func (p *Publisher) Close() {
	p.closeMu.Lock()
	wasClosed := p.closed
	p.closed = true
	p.closeMu.Unlock()
	if wasClosed {
		return
	}

	p.Flush(disconnectQuiesce * time.Millisecond)
	if p.client.IsConnected() {
		p.logger.Info().Msg("Disconnecting from MQTT broker")
		p.client.Disconnect(disconnectQuiesce)
	}
}

// begin registers a delivery unless the publisher is closed or offline.
func (p *Publisher) begin() bool {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	if p.closed || !p.client.IsConnected() {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *Publisher) eventTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTime
}

func (p *Publisher) publish(suffix string, v interface{}) {
	topic := p.Topic(suffix)

	if !p.begin() {
		p.dropped.Add(1)
		p.logger.Debug().Str("topic", topic).Msg("MQTT client not connected, message dropped")
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		p.inflight.Done()
		p.logger.ErrorWithCode(errors.New().Wrap(errors.ErrPublishFailed, err)).
			Str("topic", topic).
			Msg("Failed to encode message")
		return
	}

	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, payload)

	go func() { // Non-blocking wait for publish to complete
		defer p.inflight.Done()
		if token.Wait() && token.Error() != nil {
			p.failed.Add(1)
			p.logger.ErrorWithCode(errors.New().Wrap(errors.ErrPublishFailed, token.Error())).
				Str("topic", topic).
				Msg("Error publishing message")
		}
	}()

	p.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published")
}
