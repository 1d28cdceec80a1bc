// Пакет queue — обёртка над RabbitMQ (amqp091-go) для durable-очереди заданий.
// Publisher подключается на каждую операцию (connect → publish → disconnect),
// Consumer держит одно соединение с prefetch=1 — single-flight дисциплина:
// воркер завершает (ack/reject) текущее задание прежде, чем получит следующее.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage — сообщение очереди заданий.
type JobMessage struct {
	// SDAPath — путь коллекции в ленточном архиве.
	SDAPath string `json:"sda_path"`
	// Email — адрес заказчика.
	Email string `json:"email"`
	// JobID — идентификатор задания.
	JobID string `json:"job_id"`
}

// Acknowledger — подтверждение обработки сообщения очереди.
type Acknowledger interface {
	// Ack подтверждает обработку (сообщение удаляется из очереди).
	Ack() error
	// Reject отклоняет сообщение без повторной доставки.
	Reject() error
}

// Publisher — издатель сообщений в durable-очередь.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger
}

// NewPublisher создаёт издателя. url — AMQP URL брокера, queue — имя очереди.
func NewPublisher(url, queue string, logger *slog.Logger) *Publisher {
	return &Publisher{
		url:    url,
		queue:  queue,
		logger: logger.With(slog.String("component", "queue_publisher")),
	}
}

// Publish отправляет сообщение с persistent delivery mode.
// Соединение открывается на одну операцию и сразу закрывается —
// это ограничивает время жизни простаивающих соединений.
func (p *Publisher) Publish(ctx context.Context, msg JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("ошибка подключения к брокеру: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("ошибка объявления очереди %s: %w", p.queue, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err = ch.PublishWithContext(pubCtx,
		"",      // exchange (default)
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("ошибка публикации сообщения: %w", err)
	}

	p.logger.Debug("Сообщение опубликовано",
		slog.String("queue", p.queue),
		slog.String("job_id", msg.JobID),
	)

	return nil
}

// Consumer — потребитель очереди заданий с prefetch=1.
type Consumer struct {
	url    string
	queue  string
	logger *slog.Logger
}

// NewConsumer создаёт потребителя очереди.
func NewConsumer(url, queue string, logger *slog.Logger) *Consumer {
	return &Consumer{
		url:    url,
		queue:  queue,
		logger: logger.With(slog.String("component", "queue_consumer")),
	}
}

// Run потребляет сообщения до отмены ctx. Каждое сообщение декодируется
// и передаётся handler'у вместе с Acknowledger; нераспознанные сообщения
// отклоняются без повторной доставки (poison message).
// Блокирующий вызов.
func (c *Consumer) Run(ctx context.Context, handler func(ctx context.Context, msg JobMessage, ack Acknowledger)) error {
	// Heartbeat отключён: извлечение из архива блокирует обработку на десятки
	// минут, и брокер не должен закрывать соединение как неживое.
	conn, err := amqp.DialConfig(c.url, amqp.Config{Heartbeat: 0})
	if err != nil {
		return fmt.Errorf("ошибка подключения к брокеру: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("ошибка объявления очереди %s: %w", c.queue, err)
	}

	// prefetch=1 — не более одного неподтверждённого сообщения на процесс
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("ошибка установки QoS: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("ошибка регистрации потребителя: %w", err)
	}

	c.logger.Info("Потребитель очереди запущен", slog.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("канал доставки закрыт брокером")
			}

			var msg JobMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				c.logger.Error("Нераспознанное сообщение очереди, отклоняется",
					slog.String("error", err.Error()),
				)
				if err := d.Reject(false); err != nil {
					c.logger.Error("Ошибка отклонения сообщения", slog.String("error", err.Error()))
				}
				continue
			}

			handler(ctx, msg, deliveryAck{d: d})
		}
	}
}

// deliveryAck — адаптер amqp.Delivery к интерфейсу Acknowledger.
type deliveryAck struct {
	d amqp.Delivery
}

func (a deliveryAck) Ack() error {
	return a.d.Ack(false)
}

func (a deliveryAck) Reject() error {
	return a.d.Reject(false)
}
