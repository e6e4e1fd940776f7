package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/streamhaus/evr-go/core/es"
)

const (
	defaultSubjectPrefix = "evr.events"
	defaultStreamName    = "EVR_EVENTS"

	// dedupWindow is the JetStream duplicate-detection window. Re-publishes
	// of the same envelope ID inside it are dropped server-side.
	dedupWindow = 2 * time.Minute
)

type PublisherConfig struct {
	Connect       Connector // nil means ConnectDefault()
	Log           *slog.Logger
	StreamName    string
	SubjectPrefix string

	// MaxAge bounds stream growth. Zero keeps events indefinitely.
	MaxAge time.Duration
}

// Publisher forwards committed envelopes to a JetStream stream, one message
// per envelope on subject <prefix>.<streamType>.<streamID>. The envelope ID
// doubles as the idempotency key, so the store's at-least-once handoff never
// duplicates messages inside the dedup window.
type Publisher struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	log           *slog.Logger
	streamName    string
	subjectPrefix string
}

func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.MaxAge,
		Duplicates: dedupWindow,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	return &Publisher{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		log:           log.With(slog.String("component", "nats-publisher"), slog.String("stream", streamName)),
		streamName:    streamName,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (p *Publisher) Subject(env es.Envelope) string {
	return fmt.Sprintf("%s.%s.%s", p.subjectPrefix, env.StreamType, env.StreamID)
}

// Publish sends the batch in commit order. It stops at the first failure so
// the caller's retry replays from a consistent point; already-delivered
// envelopes are absorbed by the dedup window.
func (p *Publisher) Publish(ctx context.Context, envelopes []es.Envelope) error {
	for _, env := range envelopes {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
		}

		msg := &natsgo.Msg{
			Subject: p.Subject(env),
			Data:    data,
			Header:  natsgo.Header{},
		}
		msg.Header.Set(natsgo.MsgIdHdr, env.ID)

		if _, err := p.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish envelope %s: %w", env.ID, err)
		}

		p.log.Debug(
			"published",
			slog.String("subject", msg.Subject),
			slog.String("event_type", env.Type),
			slog.Uint64("pos", env.GlobalPos),
		)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.closeNc != nil {
		p.closeNc()
	}
}

// ParseEnvelope decodes a JetStream message produced by Publish.
func ParseEnvelope(data []byte) (es.Envelope, error) {
	var env es.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.ID == "" {
		return env, errors.New("message is not an event envelope")
	}
	return env, nil
}

var _ es.Publisher = (*Publisher)(nil)
