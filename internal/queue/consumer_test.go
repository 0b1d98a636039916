package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBillingLine_LateCancellation(t *testing.T) {
	ev := BillingEvent{
		Kind:            BillingLateCancellation,
		BookingID:       42,
		MemberID:        7,
		StudioID:        1,
		ClassInstanceID: 9,
		CreditForfeited: true,
		Reason:          "cancelled inside the cancellation window",
		OccurredAt:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	line := FormatBillingLine(ev)
	assert.Equal(t, `[2026-03-02T09:00:00Z] billing.late_cancellation | booking_id=42 | member_id=7 | studio_id=1 | class_instance_id=9 | credit_forfeited=true | reason="cancelled inside the cancellation window"`+"\n", line)
}

func TestFormatBillingLine_Refund(t *testing.T) {
	line := FormatBillingLine(BillingEvent{
		Kind:        BillingRefundDue,
		BookingID:   3,
		PaymentRef:  "pay-1",
		AmountCents: 1500,
		Currency:    "usd",
	})
	assert.Contains(t, line, "payment_ref=pay-1")
	assert.Contains(t, line, "amount=1500 cents usd")
	assert.NotContains(t, line, "credit_forfeited")
}

func TestAppendBillingRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	for i := 0; i < 2; i++ {
		body, err := json.Marshal(BillingEvent{Kind: BillingRefundDue, BookingID: uint64(i + 1)})
		require.NoError(t, err)
		require.NoError(t, AppendBillingRecord(dir, body))
	}

	data, err := os.ReadFile(filepath.Join(dir, "billing.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "booking_id=1")
	assert.Contains(t, lines[1], "booking_id=2")
}

func TestAppendBillingRecord_RejectsBadPayload(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, AppendBillingRecord(dir, []byte("not json")))
	assert.Error(t, AppendBillingRecord(dir, []byte(`{"booking_id":1}`)))
	_, err := os.Stat(filepath.Join(dir, "billing.log"))
	assert.True(t, os.IsNotExist(err))
}
