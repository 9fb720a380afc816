package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CoreVault/internal/observability"
	"CoreVault/internal/oracle"
	"CoreVault/internal/vault"
)

// Subscriber consumes keeper commands from JetStream and drives the
// epoch lifecycle on the vault engine. Commands arrive on vault.ops.*
// subjects; the keeper's NATS credentials are its authentication, so
// every dispatched call uses the configured operator identity.
type Subscriber struct {
	js       jetstream.JetStream
	engine   *vault.Engine
	prices   *oracle.PriceOracle
	operator uuid.UUID

	// priceAuthority is the identity allowed to move oracle prices.
	priceAuthority uuid.UUID

	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, engine *vault.Engine, prices *oracle.PriceOracle,
	operator, priceAuthority uuid.UUID, metrics *observability.Metrics, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:             js,
		engine:         engine,
		prices:         prices,
		operator:       operator,
		priceAuthority: priceAuthority,
		metrics:        metrics,
		log:            log,
	}
}

// Subscribe creates the durable ops consumer and starts dispatching.
// Commands use explicit ACK; permanent failures (parse errors, rejected
// transitions) are ACKed so they are not redelivered.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, OpsStream, jetstream.ConsumerConfig{
		Durable:       opsConsumerName,
		FilterSubject: OpsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", opsConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", opsConsumerName, err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", OpsSubject).Str("consumer", opsConsumerName).Msg("subscribed")
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg jetstream.Msg) {
	start := time.Now()
	subject := msg.Subject()

	cmd, err := ParseCommand(subject, msg.Data())
	if err != nil {
		s.countError("unknown", "parse")
		s.log.Warn().Str("subject", subject).Err(err).Msg("bad keeper command")
		msg.Ack() // malformed commands never succeed on redelivery
		return
	}

	if s.metrics != nil {
		s.metrics.OpsCommandsReceived.WithLabelValues(cmd.Name()).Inc()
	}

	if err := s.dispatch(cmd); err != nil {
		s.countError(cmd.Name(), "rejected")
		s.log.Warn().Str("command", cmd.Name()).Err(err).Msg("keeper command rejected")
		if retryable(err) {
			msg.Nak()
		} else {
			msg.Ack()
		}
		return
	}

	msg.Ack()
	if s.metrics != nil {
		s.metrics.NATSPullLatency.WithLabelValues(subject).Observe(time.Since(start).Seconds())
	}
	s.log.Info().Str("command", cmd.Name()).Msg("keeper command applied")
}

func (s *Subscriber) dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case CloseEpochCommand:
		return s.engine.CloseEpoch(s.operator)

	case NotifyYieldCommand:
		return s.engine.NotifyYield(s.operator, c.PrimaryYield, c.SecondaryAsset, c.SecondaryYield)

	case DistributeYieldCommand:
		return s.engine.DistributeEpochYield(s.operator)

	case StartEpochCommand:
		return s.engine.StartNewEpoch(s.operator)

	case SetPriceCommand:
		return s.prices.SetPrice(s.priceAuthority, c.Asset, c.Price)

	default:
		return fmt.Errorf("unhandled command: %s", cmd.Name())
	}
}

// retryable reports whether a rejected command may succeed later.
// ErrEpochNotFinished is time-gated and will pass once enough wall
// clock has elapsed; lifecycle-ordering rejections are permanent for
// this delivery.
func retryable(err error) bool {
	return errors.Is(err, vault.ErrEpochNotFinished)
}

func (s *Subscriber) countError(command, reason string) {
	if s.metrics != nil {
		s.metrics.OpsCommandErrors.WithLabelValues(command, reason).Inc()
	}
}

// Stop gracefully stops the consumer.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("ops subscriber stopped")
}
