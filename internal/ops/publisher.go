package ops

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CoreVault/internal/vault"
)

// Publisher streams processed vault events to NATS for downstream
// consumers (dashboards, reconciliation, alerting). Events are
// published after the engine has committed them; a publish failure is
// non-fatal because consumers can always read the event log directly.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan vault.Output
	log       zerolog.Logger
}

// publishedEvent is the outbound JSON wire format.
type publishedEvent struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	UserID    *string         `json:"user_id,omitempty"`
	Epoch     uint64          `json:"epoch"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan vault.Output, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				p.log.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Err(err).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out vault.Output) error {
	env := out.Envelope

	evt := publishedEvent{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.Type.String(),
		Epoch:     env.Epoch,
		Payload:   json.RawMessage(env.Payload),
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Timestamp: env.Timestamp,
	}
	if env.User != nil {
		u := env.User.String()
		evt.UserID = &u
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("vault.events.%s", env.Type.String())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
