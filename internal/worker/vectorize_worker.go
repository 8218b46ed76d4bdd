package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"docuchat/internal/app"
	"docuchat/internal/model"
)

// VectorizeWorker consumes upload events and runs each one through the
// ingestion pipeline. One worker per process is enough; the ledger
// serializes concurrent runs for the same file.
type VectorizeWorker struct {
	conn      *amqp.Connection
	ingest    *app.IngestService
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewVectorizeWorker(conn *amqp.Connection, ingest *app.IngestService, queueName string, logger *zap.Logger) *VectorizeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorizeWorker{
		conn:      conn,
		ingest:    ingest,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *VectorizeWorker) Start(ctx context.Context) error {
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

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
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
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *VectorizeWorker) handle(ctx context.Context, d amqp.Delivery) {
	var event model.UploadEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		w.logger.Error("worker decode upload event failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	err := w.ingest.Vectorize(ctx, event)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, app.ErrDuplicateTrigger):
		// Another run owns this file; dropping the duplicate is correct.
		w.logger.Info("worker dropped duplicate upload event",
			zap.Uint("user_id", event.UserID),
			zap.String("file_name", event.FileName))
		_ = d.Ack(false)
	default:
		// Infra failure before the ledger could absorb it. Requeue once;
		// a redelivered event that fails again is dead-lettered.
		w.logger.Error("worker vectorize failed",
			zap.Uint("user_id", event.UserID),
			zap.String("file_name", event.FileName),
			zap.Error(err))
		_ = d.Nack(false, !d.Redelivered)
	}
}

func (w *VectorizeWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
