package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subject  string
	data     []byte
	flushed  bool
	failWith error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.subject, f.data = subject, data
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error {
	f.flushed = true
	return nil
}

func TestNATSPublisher_Deposit(t *testing.T) {
	fc := &fakeConn{}
	p := &NATSPublisher{nc: fc}

	err := p.Deposit(context.Background(), DepositEvent{
		AccountID:  42,
		Channel:    "ton",
		Amount:     decimal.RequireFromString("600.00"),
		Reference:  "ton:5:abc",
		OccurredAt: time.Unix(0, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, SubjectDeposit, fc.subject)
	assert.True(t, fc.flushed)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.data, &got))
	assert.Equal(t, float64(42), got["account_id"])
	assert.Equal(t, "600", got["amount"])
}

func TestNATSPublisher_PublishError(t *testing.T) {
	p := &NATSPublisher{nc: &fakeConn{failWith: errors.New("no responders")}}

	err := p.Withdrawal(context.Background(), WithdrawalEvent{AdminID: 1, AccountID: 2, Stars: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectWithdrawal)
}
