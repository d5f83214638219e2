// Package notify delivers settlement notifications after the ledger commits.
// Delivery is best effort: failures are logged and counted, never retried.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Template keys understood by the downstream renderer.
const (
	TemplatePaymentReceived    = "payment_received"
	TemplateSaleCredited       = "sale_credited"
	TemplateCommissionEarned   = "commission_earned"
	TemplatePaymentFailed      = "payment_failed"
	TemplatePaymentReversed    = "payment_reversed"
	TemplateSaleReversed       = "sale_reversed"
	TemplateRefundInitiated    = "refund_initiated"
	TemplateRefundCompleted    = "refund_completed"
	TemplateRefundOffline      = "refund_offline"
	TemplateSaleRefunded       = "sale_refunded"
	TemplateCommissionRefunded = "commission_refunded"
	TemplatePayoutSent         = "payout_sent"
	TemplatePayoutManual       = "payout_manual"
)

// Parties an event can be addressed to.
const (
	PartyBuyer    = "buyer"
	PartySeller   = "seller"
	PartyPlatform = "platform"
)

// Event is one message to one affected party.
type Event struct {
	Party         string    `json:"party"`
	AccountID     uuid.UUID `json:"account_id"`
	Template      string    `json:"template"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	OrderID       uuid.UUID `json:"order_id,omitempty"`
	TransactionID uuid.UUID `json:"transaction_id,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, events []Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events to a topic keyed by account so a party's
// notifications stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

func (k *KafkaNotifier) Notify(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: k.topic,
			Key:   []byte(e.AccountID.String()),
			Value: value,
			Time:  e.OccurredAt,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d notifications: %w", len(msgs), err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// LogNotifier writes events to the log; used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, events []Event) error {
	for _, e := range events {
		l.logger.Info("notification",
			zap.String("party", e.Party),
			zap.String("account_id", e.AccountID.String()),
			zap.String("template", e.Template),
			zap.Int64("amount", e.Amount),
			zap.String("currency", e.Currency),
			zap.String("reference", e.Reference),
		)
	}
	return nil
}

// Dispatcher sends events on a detached goroutine with its own deadline so a
// slow broker never holds up the caller or a database transaction.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout}
}

// Dispatch must only be called once the state the events describe is committed.
func (d *Dispatcher) Dispatch(events ...Event) {
	if d == nil || d.notifier == nil || len(events) == 0 {
		return
	}
	now := time.Now().UTC()
	for i := range events {
		if events[i].OccurredAt.IsZero() {
			events[i].OccurredAt = now
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				observability.IncrementNotification("panic")
				zap.L().Error("notifier panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, events); err != nil {
			observability.IncrementNotification("failed")
			zap.L().Warn("notification delivery failed",
				zap.Error(err),
				zap.Int("events", len(events)),
				zap.String("template", events[0].Template),
			)
			return
		}
		observability.IncrementNotification("sent")
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Recorder keeps every event it is given. It can be told to fail.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Notify(_ context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Templates lists the template keys received, in order.
func (r *Recorder) Templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Template
	}
	return out
}
