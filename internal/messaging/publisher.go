package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

// TurnUpdatePublisher fans committed turn results out to the presentation
// layer. Publishing is best effort: a failed publish never unwinds a commit.
type TurnUpdatePublisher interface {
	PublishTurnUpdate(ctx context.Context, update models.TurnUpdate) error
}

var _ TurnUpdatePublisher = (*rabbitMQPublisher)(nil)

type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQTurnUpdatePublisher opens a channel on the connection and
// declares the durable turn updates queue. Declaration parameters must match
// the consumer's.
func NewRabbitMQTurnUpdatePublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (TurnUpdatePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("turn update publisher: failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("turn update publisher: failed to declare queue %q: %w", queueName, err)
	}
	logger.Info("Turn update queue declared", zap.String("queue", queueName))
	return &rabbitMQPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("TurnUpdatePublisher"),
	}, nil
}

// PublishTurnUpdate publishes one committed turn result.
func (p *rabbitMQPublisher) PublishTurnUpdate(ctx context.Context, update models.TurnUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal turn update: %w", err)
	}
	if err := p.publishMessage(ctx, body); err != nil {
		p.logger.Error("Failed to publish turn update",
			zap.String("campaignId", update.CampaignID.String()),
			zap.Int("turn", update.TurnNumber), zap.Error(err))
		return fmt.Errorf("failed to publish turn update for turn %d: %w", update.TurnNumber, err)
	}
	return nil
}

func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "rpg-server",
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt), zap.String("queue", p.queueName), zap.Error(err))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("failed to publish to queue %s after retries: %w", p.queueName, err)
}
