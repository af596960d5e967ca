package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

const DEFAULT_CONSUMER_GROUP = "curvewatch-gateway"

type fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	Close()
}

// Relay consumes the notification topic and hands every message to a local
// notifier, so a gateway can run apart from the indexer that produced it.
type Relay struct {
	client fetcher
	sink   notify.INotifier
}

type relayedMessage struct {
	Event   notify.Event    `json:"event"`
	Token   string          `json:"token"`
	Targets []PublishTarget `json:"targets"`
	Data    json.RawMessage `json:"data"`
}

func NewKafkaRelay(cfg *config.PublisherConfig, sink notify.INotifier) (*Relay, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DEFAULT_TOPIC
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = DEFAULT_CONSUMER_GROUP
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		// clients only care about what happens from now on
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	log.Info().Msgf("Kafka relay consuming %s as %s", topic, group)
	return &Relay{client: client, sink: sink}, nil
}

func (r *Relay) Run(ctx context.Context) {
	defer r.client.Close()
	for {
		fetches := r.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			log.Info().Msg("Kafka relay shutting down")
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("Kafka fetch failed")
		})
		fetches.EachRecord(func(record *kgo.Record) {
			if err := r.handle(ctx, record); err != nil {
				log.Warn().Err(err).Str("key", string(record.Key)).Msg("Dropping relayed notification")
			}
		})
	}
}

func (r *Relay) handle(ctx context.Context, record *kgo.Record) error {
	var msg relayedMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	if msg.Event == "" {
		return errors.New("notification has no event name")
	}
	targets := make([]notify.Target, len(msg.Targets))
	for i, t := range msg.Targets {
		targets[i] = notify.Target{Scope: t.Scope, Key: t.Key}
	}
	return r.sink.Publish(ctx, notify.Notification{
		Event:        msg.Event,
		TokenAddress: msg.Token,
		Targets:      targets,
		Data:         msg.Data,
	})
}
