// internal/domain/notification/delivery.go
package notification

import (
	"context"
	"fmt"
	"time"
)

var (
	ErrChannelNotConfigured = fmt.Errorf("channel not configured")
	ErrTransportFailure     = fmt.Errorf("transport failure")
	ErrInvalidRecipient     = fmt.Errorf("invalid recipient address")
)

// Message is what a channel delivers. Subject is ignored by SMS.
type Message struct {
	Subject string
	Body    string
}

// DeliveryAttempt is the outcome of one send on one channel. It is produced
// once per (guardian, channel) pair and never retried in the same invocation.
type DeliveryAttempt struct {
	Channel      Channel
	Recipient    string // normalized address or number
	GuardianName string
	Success      bool
	ProviderRef  string
	ErrorDetail  string
	Err          error `json:"-"`
	Message      Message
	AttemptedAt  time.Time
}

// Failed builds an unsuccessful attempt from err.
func Failed(ch Channel, recipient string, err error) DeliveryAttempt {
	return DeliveryAttempt{
		Channel:     ch,
		Recipient:   recipient,
		Success:     false,
		ErrorDetail: err.Error(),
		Err:         err,
		AttemptedAt: time.Now(),
	}
}

// Sender delivers a message on one channel. Send never returns an error:
// every failure is reported in the returned attempt.
type Sender interface {
	Channel() Channel
	Enabled() bool
	Send(ctx context.Context, recipient string, msg Message) DeliveryAttempt
}

// BulkRecipient is one entry of a bulk send.
type BulkRecipient struct {
	Recipient string
	Message   Message
}

// BulkResult aggregates a bulk send. Success means at least one message got
// through, not that all did.
type BulkResult struct {
	Sent     int
	Failed   int
	Success  bool
	Attempts []DeliveryAttempt
}

// BulkSender is implemented by channels that pace bulk sends themselves.
type BulkSender interface {
	SendBulk(ctx context.Context, recipients []BulkRecipient) BulkResult
}

// ProviderStatus is the delivery state reported by a provider after sending.
type ProviderStatus struct {
	Status      string
	DateCreated *time.Time
	DateSent    *time.Time
	DateUpdated *time.Time
	ErrorCode   string
}

// StatusChecker looks up provider-side delivery status. It never fails; lookups
// that cannot be made report "unknown" or "failed".
type StatusChecker interface {
	CheckStatus(ctx context.Context, providerRef string) ProviderStatus
}

// GuardianResult aggregates every attempt made for one student invocation.
type GuardianResult struct {
	StudentID     string
	GuardianCount int
	Attempts      []DeliveryAttempt
	Status        ResultStatus
}

// Summarize derives Status from the recorded attempts.
func (r *GuardianResult) Summarize() {
	// Also covers guardians that have neither an email nor a phone.
	if len(r.Attempts) == 0 {
		r.Status = StatusNoContacts
		return
	}
	sent := r.SentCount()
	switch {
	case sent == len(r.Attempts):
		r.Status = StatusNotified
	case sent > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusFailed
	}
}

func (r *GuardianResult) SentCount() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Success {
			n++
		}
	}
	return n
}
