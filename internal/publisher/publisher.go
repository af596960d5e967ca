package publisher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/metrics"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

const DEFAULT_TOPIC = "curvewatch.notifications"

type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Close()
}

// KafkaPublisher writes every notification to a single topic, keyed by token
// address so a market's notifications stay ordered within one partition.
type KafkaPublisher struct {
	client producer
	topic  string
	mu     sync.RWMutex
}

type PublishableMessage struct {
	Event       notify.Event    `json:"event"`
	Token       string          `json:"token"`
	Targets     []PublishTarget `json:"targets"`
	Data        interface{}     `json:"data"`
	PublishedAt time.Time       `json:"publishedAt"`
}

type PublishTarget struct {
	Scope notify.Scope `json:"scope"`
	Key   string       `json:"key,omitempty"`
}

func NewKafkaPublisher(cfg *config.PublisherConfig) (*KafkaPublisher, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	brokers := strings.Split(cfg.Brokers, ",")
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ClientID(fmt.Sprintf("curvewatch-indexer-%d", config.Cfg.Contract.ChainID)),
		kgo.MetadataMaxAge(60 * time.Second),
		kgo.DialTimeout(10 * time.Second),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()))
		tlsDialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
		opts = append(opts, kgo.Dialer(tlsDialer.DialContext))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	log.Info().Msgf("Kafka publisher connected to %d broker(s)", len(brokers))
	return newKafkaPublisher(client, cfg.Topic), nil
}

func newKafkaPublisher(client producer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DEFAULT_TOPIC
	}
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n notify.Notification) error {
	record, err := p.createRecord(n)
	if err != nil {
		metrics.PublisherErrors.Inc()
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil
	}

	var wg sync.WaitGroup
	var produceErr error
	wg.Add(1)
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		defer wg.Done()
		produceErr = err
	})
	wg.Wait()

	if produceErr != nil {
		metrics.PublisherErrors.Inc()
		return fmt.Errorf("failed to publish %s for %s: %w", n.Event, n.TokenAddress, produceErr)
	}
	metrics.PublisherMessagesPublished.Inc()
	return nil
}

func (p *KafkaPublisher) createRecord(n notify.Notification) (*kgo.Record, error) {
	if n.Event == "" {
		return nil, errors.New("notification has no event name")
	}
	targets := make([]PublishTarget, len(n.Targets))
	for i, t := range n.Targets {
		targets[i] = PublishTarget{Scope: t.Scope, Key: t.Key}
	}
	msg := PublishableMessage{
		Event:       n.Event,
		Token:       n.TokenAddress,
		Targets:     targets,
		Data:        n.Data,
		PublishedAt: time.Now().UTC(),
	}
	msgJson, err := rpc.MarshalLossless(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s notification: %w", n.Event, err)
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(n.TokenAddress),
		Value: msgJson,
	}, nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Close()
		p.client = nil
		log.Debug().Msg("Publisher client closed")
	}
	return nil
}
