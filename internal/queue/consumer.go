package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// BillingQueue is bound to every billing.* routing key.
const BillingQueue = "billing.events"

// BillingConsumer hands billing events to the billing collaborator.  Until
// that system exists each event is appended to billing.log under Dir as one
// line for staff to act on.
type BillingConsumer struct {
	URL string
	Dir string
	Log *zap.Logger
}

// Run connects to the broker, declares and binds the billing queue and
// consumes until ctx is cancelled.  Dial failures back off up to 30s; a
// dropped connection is reconnected.
func (c *BillingConsumer) Run(ctx context.Context) error {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing-consumer")
	url := c.URL
	if url == "" {
		url = DefaultURL
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *BillingConsumer) consume(ctx context.Context, conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("set QoS failed", zap.Error(err))
	}
	if err := DeclareExchange(ch); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(BillingQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(BillingQueue, "billing.#", Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(BillingQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := AppendBillingRecord(c.Dir, d.Body); err != nil {
				log.Error("handle billing event failed", zap.Error(err))
				// Reject without requeue to avoid a hot loop on a poison message.
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// AppendBillingRecord decodes a BillingEvent and appends its line to
// dir/billing.log, creating the directory when missing.
func AppendBillingRecord(dir string, body []byte) error {
	var ev BillingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Kind == "" {
		return errors.New("billing event without kind")
	}
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "billing.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatBillingLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatBillingLine renders ev as a single human-readable line.
func FormatBillingLine(ev BillingEvent) string {
	line := fmt.Sprintf("[%s] %s | booking_id=%d | member_id=%d | studio_id=%d | class_instance_id=%d",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Kind, ev.BookingID, ev.MemberID, ev.StudioID, ev.ClassInstanceID)
	if ev.PaymentRef != "" {
		line += fmt.Sprintf(" | payment_ref=%s", ev.PaymentRef)
	}
	if ev.AmountCents > 0 {
		line += fmt.Sprintf(" | amount=%d cents %s", ev.AmountCents, ev.Currency)
	}
	if ev.Kind == BillingLateCancellation {
		line += fmt.Sprintf(" | credit_forfeited=%t", ev.CreditForfeited)
	}
	if ev.Reason != "" {
		line += fmt.Sprintf(" | reason=%q", ev.Reason)
	}
	return line + "\n"
}
