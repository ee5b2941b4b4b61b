package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"custodytrail/internal/model"
	"custodytrail/internal/platform/rabbitmq"
)

// TimelineInvalidator drops a user's cached timeline listings.
type TimelineInvalidator interface {
	Invalidate(ctx context.Context, userID uint) error
}

// TimelineCacheWorker consumes capture.committed events and invalidates the
// committing user's timeline cache.
type TimelineCacheWorker struct {
	conn      *amqp.Connection
	cache     TimelineInvalidator
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTimelineCacheWorker(conn *amqp.Connection, cache TimelineInvalidator, queueName string) *TimelineCacheWorker {
	return &TimelineCacheWorker{
		conn:      conn,
		cache:     cache,
		queueName: queueName,
	}
}

func (w *TimelineCacheWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"timeline-cache",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

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
					return
				}
				requeue, err := w.handle(workerCtx, d.Body)
				if err != nil {
					log.Printf("timeline cache worker: %v", err)
					_ = d.Nack(false, requeue)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// handle reports whether a failed delivery is worth redelivering. Malformed
// payloads never are.
func (w *TimelineCacheWorker) handle(ctx context.Context, body []byte) (bool, error) {
	var event model.CaptureCommittedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return false, fmt.Errorf("decode capture event failed: %w", err)
	}
	if event.UserID == 0 {
		return false, fmt.Errorf("capture event session=%d has no user", event.SessionID)
	}
	if err := w.cache.Invalidate(ctx, event.UserID); err != nil {
		return true, fmt.Errorf("invalidate timeline user=%d failed: %w", event.UserID, err)
	}
	log.Printf("timeline cache invalidated user=%d session=%d events=%d", event.UserID, event.SessionID, len(event.EventIDs))
	return false, nil
}

func (w *TimelineCacheWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
