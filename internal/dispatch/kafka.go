package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/werrors"
)

// KafkaDispatcher publishes envelopes to Kafka topics and consumes them
// through a consumer group, so a topic partition is owned by exactly one
// node at a time.
type KafkaDispatcher struct {
	brokers        []string
	groupID        string
	eventsTopic    string
	retriesTopic   string
	balancingTopic string
	syncSend       bool
	sendTimeout    time.Duration
	logger         *slog.Logger

	mu            sync.RWMutex
	producer      sarama.SyncProducer
	asyncProducer sarama.AsyncProducer
	consumerGroup sarama.ConsumerGroup
	handler       Handler
	cancelFunc    context.CancelFunc
	healthy       bool
	healthMsg     string
}

// NewKafkaDispatcher creates a Kafka dispatcher from configuration. It does
// not connect until Start.
func NewKafkaDispatcher(cfg *config.Config, logger *slog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		brokers:        cfg.KafkaBrokers,
		groupID:        cfg.KafkaGroupID,
		eventsTopic:    cfg.EventsTopic,
		retriesTopic:   cfg.RetriesTopic,
		balancingTopic: cfg.BalancingTopic,
		syncSend:       cfg.ProducerSyncSend,
		sendTimeout:    cfg.ProducerSendTimeout,
		logger:         logger,
		healthMsg:      "not started",
	}
}

// Subscribe registers the envelope handler. Must be called before Start.
func (d *KafkaDispatcher) Subscribe(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Start connects the producer and begins consuming all three topics.
func (d *KafkaDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	if d.sendTimeout > 0 {
		// Bounds how long a sync send waits for broker acks.
		config.Producer.Timeout = d.sendTimeout
	}
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	if d.syncSend {
		producer, err := sarama.NewSyncProducer(d.brokers, config)
		if err != nil {
			d.healthy = false
			d.healthMsg = fmt.Sprintf("producer connect failed: %v", err)
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		d.producer = producer
	} else {
		producer, err := sarama.NewAsyncProducer(d.brokers, config)
		if err != nil {
			d.healthy = false
			d.healthMsg = fmt.Sprintf("producer connect failed: %v", err)
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		d.asyncProducer = producer
		go d.drainAsyncResults(producer)
	}

	if d.handler != nil {
		group, err := sarama.NewConsumerGroup(d.brokers, d.groupID, config)
		if err != nil {
			d.closeProducersLocked()
			d.healthy = false
			d.healthMsg = fmt.Sprintf("consumer group connect failed: %v", err)
			return fmt.Errorf("failed to create Kafka consumer group: %w", err)
		}
		d.consumerGroup = group

		consumerCtx, cancel := context.WithCancel(ctx)
		d.cancelFunc = cancel

		topics := []string{d.eventsTopic, d.retriesTopic, d.balancingTopic}
		handler := &kafkaGroupHandler{dispatcher: d}

		go func() {
			for {
				if err := group.Consume(consumerCtx, topics, handler); err != nil {
					d.logger.Error("Kafka consumer group error", "error", err)
					d.setUnhealthy(fmt.Sprintf("consumer error: %v", err))
				} else {
					d.setHealthy("connected")
				}
				if consumerCtx.Err() != nil {
					return
				}
			}
		}()
	}

	d.healthy = true
	d.healthMsg = "connected"
	d.logger.Info("Kafka dispatcher started",
		"brokers", d.brokers,
		"group_id", d.groupID,
		"sync_send", d.syncSend)
	return nil
}

// Stop closes the consumer group and producers.
func (d *KafkaDispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelFunc != nil {
		d.cancelFunc()
		d.cancelFunc = nil
	}

	var lastErr error

	if d.consumerGroup != nil {
		if err := d.consumerGroup.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close consumer group: %w", err)
			d.logger.Error("Failed to close Kafka consumer group", "error", err)
		}
		d.consumerGroup = nil
	}

	if err := d.closeProducersLocked(); err != nil {
		lastErr = err
	}

	d.healthy = false
	d.healthMsg = "stopped"
	d.logger.Info("Kafka dispatcher stopped")
	return lastErr
}

func (d *KafkaDispatcher) closeProducersLocked() error {
	var lastErr error
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close producer: %w", err)
			d.logger.Error("Failed to close Kafka producer", "error", err)
		}
		d.producer = nil
	}
	if d.asyncProducer != nil {
		if err := d.asyncProducer.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close async producer: %w", err)
			d.logger.Error("Failed to close Kafka async producer", "error", err)
		}
		d.asyncProducer = nil
	}
	return lastErr
}

// PublishEvent enqueues a newly ingested message for delivery.
func (d *KafkaDispatcher) PublishEvent(ctx context.Context, env *Envelope) error {
	return d.publish(ctx, d.eventsTopic, env)
}

// PublishRetry enqueues a due retry.
func (d *KafkaDispatcher) PublishRetry(ctx context.Context, env *Envelope) error {
	return d.publish(ctx, d.retriesTopic, env)
}

// PublishBalancing hands a message to the node named in the envelope.
func (d *KafkaDispatcher) PublishBalancing(ctx context.Context, env *Envelope) error {
	return d.publish(ctx, d.balancingTopic, env)
}

// publish keys the record on the message id so all envelopes for one message
// land in the same partition and stay ordered.
func (d *KafkaDispatcher) publish(_ context.Context, topic string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return werrors.Wrap(werrors.KindProcessing, werrors.PhasePreparation, "failed to encode envelope", err)
	}

	d.mu.RLock()
	producer := d.producer
	asyncProducer := d.asyncProducer
	d.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.MessageID),
		Value: sarama.ByteEncoder(data),
	}

	switch {
	case producer != nil:
		if _, _, err := producer.SendMessage(msg); err != nil {
			d.setUnhealthy(fmt.Sprintf("publish failed: %v", err))
			return werrors.Wrap(werrors.KindTransportUnavailable, werrors.PhaseDelivery,
				fmt.Sprintf("failed to publish to %q", topic), err).WithMessage(env.MessageID)
		}
		d.setHealthy("connected")
		return nil
	case asyncProducer != nil:
		asyncProducer.Input() <- msg
		return nil
	default:
		return werrors.E(werrors.KindTransportUnavailable, "kafka dispatcher not started").WithMessage(env.MessageID)
	}
}

// drainAsyncResults keeps the async producer's result channels from filling
// up and records delivery errors against broker health.
func (d *KafkaDispatcher) drainAsyncResults(producer sarama.AsyncProducer) {
	for {
		select {
		case _, ok := <-producer.Successes():
			if !ok {
				return
			}
			d.setHealthy("connected")
		case err, ok := <-producer.Errors():
			if !ok {
				return
			}
			d.logger.Error("async publish failed", "topic", err.Msg.Topic, "error", err.Err)
			d.setUnhealthy(fmt.Sprintf("async publish failed: %v", err.Err))
		}
	}
}

// Healthy reports whether the broker connection is usable.
func (d *KafkaDispatcher) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.healthy
}

func (d *KafkaDispatcher) setHealthy(msg string) {
	d.mu.Lock()
	d.healthy = true
	d.healthMsg = msg
	d.mu.Unlock()
}

func (d *KafkaDispatcher) setUnhealthy(msg string) {
	d.mu.Lock()
	d.healthy = false
	d.healthMsg = msg
	d.mu.Unlock()
}

// kafkaGroupHandler implements sarama.ConsumerGroupHandler.
type kafkaGroupHandler struct {
	dispatcher *KafkaDispatcher
}

func (h *kafkaGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.dispatcher.setHealthy("consuming")
	for msg := range claim.Messages() {
		h.dispatcher.mu.RLock()
		handler := h.dispatcher.handler
		h.dispatcher.mu.RUnlock()

		if handler != nil {
			env, err := DecodeEnvelope(msg.Value)
			if err != nil {
				h.dispatcher.logger.Error("dropping malformed envelope", "topic", msg.Topic, "error", err)
			} else if err := handler(session.Context(), env); err != nil {
				h.dispatcher.logger.Error("envelope handler failed",
					"topic", msg.Topic,
					"message_id", env.MessageID,
					"error", err)
			}
		}
		// Mark regardless: failed deliveries are retried through the
		// database-backed scheduler, not by replaying the topic.
		session.MarkMessage(msg, "")
	}
	return nil
}
