package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	nc   conn
	done func()
}

// Connect dials the server with the same reconnect policy the other
// services use.
func Connect(url, name string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.WithField("url", url).Info("Connected to NATS")
	return &NATSPublisher{nc: nc, done: nc.Close}, nil
}

func (p *NATSPublisher) Close() {
	if p.done != nil {
		p.done()
	}
}

func (p *NATSPublisher) Deposit(ctx context.Context, e DepositEvent) error {
	return p.publish(ctx, SubjectDeposit, e)
}

func (p *NATSPublisher) Referral(ctx context.Context, e ReferralEvent) error {
	return p.publish(ctx, SubjectReferral, e)
}

func (p *NATSPublisher) Withdrawal(ctx context.Context, e WithdrawalEvent) error {
	return p.publish(ctx, SubjectWithdrawal, e)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}
