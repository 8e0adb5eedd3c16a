package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-service/internal/repository"
)

const (
	Topic   = "checkout-outbox"
	GroupID = "cart-service-consumer"

	readBackoff = time.Second
)

var ErrInvalidPayload = errors.New("invalid checkout payload")

// CartConverter marks a customer's cart as checked out.
type CartConverter interface {
	ConvertCart(ctx context.Context, customerID string) error
}

// Poller consumes checkout events and converts the matching carts.
type Poller struct {
	carts  CartConverter
	reader *kafka.Reader
	log    *zap.Logger
}

type checkoutEvent struct {
	UserID string `json:"user_id"`
}

func NewPoller(carts CartConverter, log *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{carts: carts, reader: reader, log: log}
}

// Run reads until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("error reading message", zap.Error(err))
			select {
			case <-time.After(readBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := p.handleMessage(ctx, m.Value); err != nil {
			p.log.Error("checkout event not applied",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

// handleMessage converts the cart named by a checkout event. A customer with no
// active cart is not an error.
func (p *Poller) handleMessage(ctx context.Context, value []byte) error {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if event.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidPayload)
	}

	err := p.carts.ConvertCart(ctx, event.UserID)
	if errors.Is(err, repository.ErrCartNotFound) {
		p.log.Debug("no active cart to convert", zap.String("customer_id", event.UserID))
		return nil
	}
	return err
}
