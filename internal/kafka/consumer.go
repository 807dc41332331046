package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/domain"
)

// ResultSubmitter records a finished game
type ResultSubmitter interface {
	SubmitResult(ctx context.Context, sub domain.Submission) error
}

// Consumer feeds results published on Kafka into the game service. Every
// message is committed once handled, rejected or not; a result that failed
// validation will not pass on redelivery either.
type Consumer struct {
	config        *config.KafkaConfig
	submitter     ResultSubmitter
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, submitter ResultSubmitter, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		submitter:     submitter,
		logger:        logger.With("component", "kafka"),
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming and waits until the first session is set up or
// ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{consumer: c, ready: ready}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}
			ready = make(chan bool)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for consumer group: %w", ctx.Err())
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// DecodeSubmission parses a message value. Origin fields default like an
// HTTP request without headers.
func DecodeSubmission(value []byte) (domain.Submission, error) {
	var sub domain.Submission
	if err := json.Unmarshal(value, &sub); err != nil {
		return domain.Submission{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if sub.OriginAddress == "" {
		sub.OriginAddress = "kafka"
	}
	return sub, nil
}

// handle submits one message and reports whether it was accepted
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	sub, err := DecodeSubmission(value)
	if err != nil {
		c.logger.Warn("failed to decode message", "error", err)
		return false
	}

	timeout := c.config.HandlerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.submitter.SubmitResult(ctx, sub); err != nil {
		if domain.IsRejection(err) {
			c.logger.Info("result rejected", "player_name", sub.PlayerName, "error", err)
		} else {
			c.logger.Error("failed to submit result", "error", err)
		}
		return false
	}
	return true
}

type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
	once     sync.Once
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			accepted := h.consumer.handle(session.Context(), message.Value)
			h.consumer.logger.Debug("handled message",
				"partition", message.Partition,
				"offset", message.Offset,
				"accepted", accepted,
			)
			session.MarkMessage(message, "")
		}
	}
}
