package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"certguide/internal/model"
)

// MessageWriter is satisfied by repository.MessageRepository.
type MessageWriter interface {
	Create(message *model.Message) error
}

// MessagePersistWorker drains the chat message queue into MySQL. Malformed
// payloads are dropped; failed writes are requeued once.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	repo      MessageWriter
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, repo MessageWriter, queueName string, logger *slog.Logger) *MessagePersistWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagePersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger.With("component", "message_persist_worker", "queue", queueName),
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}
	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("delivery channel closed")
					return
				}
				w.dispatch(d)
			}
		}
	}()

	w.logger.Info("worker started")
	return nil
}

func (w *MessagePersistWorker) dispatch(d amqp.Delivery) {
	switch err := w.handle(d.Body); {
	case err == nil:
		_ = d.Ack(false)
	case isDecodeError(err):
		w.logger.Error("drop undecodable message", "error", err)
		_ = d.Nack(false, false)
	default:
		w.logger.Error("persist message failed", "error", err, "redelivered", d.Redelivered)
		_ = d.Nack(false, !d.Redelivered)
	}
}

type decodeError struct{ err error }

func (e decodeError) Error() string { return "decode message failed: " + e.err.Error() }

func isDecodeError(err error) bool {
	_, ok := err.(decodeError)
	return ok
}

func (w *MessagePersistWorker) handle(body []byte) error {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return decodeError{err}
	}
	if msg.SessionID == "" || msg.UserID == 0 {
		return decodeError{fmt.Errorf("missing session or user id")}
	}
	msg.ID = 0
	return w.repo.Create(&msg)
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
