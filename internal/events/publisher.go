package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/Consigna-Supply/gateway/internal/metrics"
	"github.com/Consigna-Supply/gateway/pkg/logger"
	"github.com/Consigna-Supply/gateway/pkg/model"
)

// Publisher wraps a NATS connection and publishes canonical session events.
// Frontend gateways subscribe to these to force sign-out when a session dies.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, subjectPrefix, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subjectPrefix,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.NATSPublishErrors.WithLabelValues(subject).Inc()
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if _, err = p.js.PublishMsg(msg); err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.NATSPublishErrors.WithLabelValues(subject).Inc()
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
	)
	return nil
}

// PublishSessionCreated emits session.created after a successful login.
func (p *Publisher) PublishSessionCreated(ctx context.Context) error {
	return p.publishSession(ctx, model.EventSessionCreated, "created")
}

// PublishSessionEnded emits session.ended after an explicit logout.
func (p *Publisher) PublishSessionEnded(ctx context.Context) error {
	return p.publishSession(ctx, model.EventSessionEnded, "ended")
}

// PublishSessionExpired emits session.expired after a failed token refresh.
func (p *Publisher) PublishSessionExpired(ctx context.Context) error {
	return p.publishSession(ctx, model.EventSessionExpired, "expired")
}

func (p *Publisher) publishSession(ctx context.Context, eventType, leaf string) error {
	subject := p.subject + "." + leaf + ".v1"
	env := model.NewEnvelope(subject, eventType)
	return p.PublishEnvelope(ctx, subject, env)
}
