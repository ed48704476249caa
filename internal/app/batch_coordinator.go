package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"student_risk_notifier/internal/domain/notification"
	"student_risk_notifier/internal/domain/risk"
	"student_risk_notifier/internal/domain/student"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultInboxBatchSize  = 100
	defaultReplayBatchSize = 200
	maxInboxAttempts       = 5
)

// AdminEscalation is satisfied by *AdminEscalator.
type AdminEscalation interface {
	Escalate(ctx context.Context, ev risk.Event) (*AdminResult, error)
}

// GuardianEscalation is satisfied by *GuardianEscalator.
type GuardianEscalation interface {
	Escalate(ctx context.Context, studentID string, level risk.Level, reason string) (*notification.GuardianResult, error)
}

// PerEventResult reports both escalation paths of one event independently.
type PerEventResult struct {
	Event       risk.Event
	Admin       *AdminResult
	AdminErr    error
	Guardian    *notification.GuardianResult
	GuardianErr error
}

// Err returns the first error of the event, if any.
func (r PerEventResult) Err() error {
	if r.AdminErr != nil {
		return r.AdminErr
	}
	return r.GuardianErr
}

// ReplaySummary counts what a replay run did.
type ReplaySummary struct {
	Replayed  int
	Succeeded int
	Skipped   int
}

// BatchCoordinator drives risk events through both escalators. It is best
// effort: a failing event never prevents the following ones from running.
type BatchCoordinator struct {
	admin    AdminEscalation
	guardian GuardianEscalation
	logger   *logrus.Entry

	inbox    risk.InboxRepository
	attempts notification.AttemptRepository
	senders  map[notification.Channel]notification.Sender
	status   notification.StatusChecker

	inflight sync.WaitGroup
}

func NewBatchCoordinator(admin AdminEscalation, guardian GuardianEscalation, logger *logrus.Entry) *BatchCoordinator {
	return &BatchCoordinator{
		admin:    admin,
		guardian: guardian,
		logger:   logger,
		senders:  map[notification.Channel]notification.Sender{},
	}
}

// SetInbox enables ProcessInbox.
func (c *BatchCoordinator) SetInbox(inbox risk.InboxRepository) { c.inbox = inbox }

// SetDelivery enables ReplayFailed and RefreshSMSStatuses.
func (c *BatchCoordinator) SetDelivery(attempts notification.AttemptRepository, status notification.StatusChecker, senders ...notification.Sender) {
	c.attempts = attempts
	c.status = status
	for _, s := range senders {
		c.senders[s.Channel()] = s
	}
}

// EscalateEvent runs both escalators for one event.
func (c *BatchCoordinator) EscalateEvent(ctx context.Context, ev risk.Event) PerEventResult {
	res := PerEventResult{Event: ev}

	if err := ev.Validate(); err != nil {
		res.AdminErr = err
		res.GuardianErr = err
		return res
	}

	res.Admin, res.AdminErr = c.admin.Escalate(ctx, ev)
	if errors.Is(res.AdminErr, student.ErrStudentNotFound) {
		// the guardian path would resolve the same missing student
		res.GuardianErr = res.AdminErr
		return res
	}

	res.Guardian, res.GuardianErr = c.guardian.Escalate(ctx, ev.StudentID, ev.Level, ev.Reason)
	return res
}

// EscalateBatch returns exactly one result per event, in input order.
func (c *BatchCoordinator) EscalateBatch(ctx context.Context, events []risk.Event) []PerEventResult {
	batchID := uuid.NewString()
	log := c.logger.WithFields(logrus.Fields{"batch_id": batchID, "events": len(events)})
	log.Info("Starting risk escalation batch")

	results := make([]PerEventResult, 0, len(events))
	failed := 0
	for _, ev := range events {
		res := c.EscalateEvent(ctx, ev)
		if err := res.Err(); err != nil {
			failed++
			log.WithError(err).WithField("student_id", ev.StudentID).Warn("Risk event escalation failed")
		}
		results = append(results, res)
	}

	log.WithFields(logrus.Fields{"failed": failed, "succeeded": len(events) - failed}).Info("Risk escalation batch finished")
	return results
}

// EscalateStudents raises the same risk for many students.
func (c *BatchCoordinator) EscalateStudents(ctx context.Context, studentIDs []string, level risk.Level, riskType, reason string) []PerEventResult {
	events := make([]risk.Event, 0, len(studentIDs))
	for _, id := range studentIDs {
		events = append(events, risk.Event{StudentID: id, Level: level, Type: riskType, Reason: reason})
	}
	return c.EscalateBatch(ctx, events)
}

// EscalateAsync runs the escalation in the background so the caller that
// raised the event is not blocked. Cancelling ctx after the call does not stop
// the escalation. The channel receives exactly one result and is closed.
func (c *BatchCoordinator) EscalateAsync(ctx context.Context, ev risk.Event) <-chan PerEventResult {
	out := make(chan PerEventResult, 1)
	detached := context.WithoutCancel(ctx)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer close(out)
		out <- c.EscalateEvent(detached, ev)
	}()
	return out
}

// Wait blocks until every escalation started by EscalateAsync has finished.
func (c *BatchCoordinator) Wait() {
	c.inflight.Wait()
}

// ProcessInbox drains pending risk events written by the risk detector.
// Entries with an invalid level are rejected without escalation. Entries that
// failed on an infrastructure error stay pending for up to maxInboxAttempts
// runs; each retry escalates both paths again.
func (c *BatchCoordinator) ProcessInbox(ctx context.Context, limit int) (int, error) {
	if c.inbox == nil {
		return 0, fmt.Errorf("risk inbox not configured")
	}
	if limit <= 0 {
		limit = defaultInboxBatchSize
	}

	entries, err := c.inbox.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending risk events: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	events := make([]risk.Event, 0, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		level, err := risk.ParseLevel(e.RawLevel)
		if err != nil {
			c.logger.WithError(err).WithField("risk_event_id", e.ID).Warn("Rejecting risk event with invalid level")
			if mErr := c.inbox.MarkProcessed(ctx, e.ID, err.Error()); mErr != nil {
				c.logger.WithError(mErr).WithField("risk_event_id", e.ID).Error("Failed to mark risk event processed")
			}
			continue
		}
		events = append(events, risk.Event{StudentID: e.StudentID, Level: level, Type: e.Type, Reason: e.Reason})
		ids = append(ids, e.ID)
	}

	results := c.EscalateBatch(ctx, events)
	for i, res := range results {
		log := c.logger.WithField("risk_event_id", ids[i])
		if err := retryableErr(res); err != nil {
			exhausted, mErr := c.inbox.MarkRetry(ctx, ids[i], err.Error(), maxInboxAttempts)
			switch {
			case mErr != nil:
				log.WithError(mErr).Error("Failed to record risk event retry")
			case exhausted:
				log.WithError(err).Error("Giving up on risk event after repeated failures")
			default:
				log.WithError(err).Warn("Risk event left pending for retry")
			}
			continue
		}

		errText := ""
		if err := res.Err(); err != nil {
			errText = err.Error()
		}
		if err := c.inbox.MarkProcessed(ctx, ids[i], errText); err != nil {
			log.WithError(err).Error("Failed to mark risk event processed")
		}
	}
	return len(entries), nil
}

// retryableErr returns the first error of res that another run could fix.
// Unknown students and invalid levels are final.
func retryableErr(res PerEventResult) error {
	for _, err := range []error{res.AdminErr, res.GuardianErr} {
		if err == nil || errors.Is(err, student.ErrStudentNotFound) || errors.Is(err, risk.ErrInvalidRiskLevel) {
			continue
		}
		return err
	}
	return nil
}

// ReplayFailed resends failed guardian attempts made at or after since. Only
// original attempts are replayed, each at most once. Attempts on a channel that
// is currently disabled are left for a later run.
func (c *BatchCoordinator) ReplayFailed(ctx context.Context, since time.Time) (ReplaySummary, error) {
	var summary ReplaySummary
	if c.attempts == nil {
		return summary, fmt.Errorf("delivery attempt repository not configured")
	}

	records, err := c.attempts.ListFailedForReplay(ctx, since, defaultReplayBatchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list failed attempts: %w", err)
	}

	var bulk []*notification.AttemptRecord
	var single []*notification.AttemptRecord
	for _, rec := range records {
		sender, ok := c.senders[rec.Attempt.Channel]
		if !ok || !sender.Enabled() {
			summary.Skipped++
			continue
		}
		if _, isBulk := sender.(notification.BulkSender); isBulk {
			bulk = append(bulk, rec)
		} else {
			single = append(single, rec)
		}
	}

	replayed := make([]int64, 0, len(bulk)+len(single))
	record := func(rec *notification.AttemptRecord, attempt notification.DeliveryAttempt) {
		attempt.GuardianName = rec.Attempt.GuardianName
		attempt.Message = rec.Attempt.Message
		summary.Replayed++
		if attempt.Success {
			summary.Succeeded++
		}
		if err := c.attempts.SaveAttempts(ctx, rec.StudentID, []notification.DeliveryAttempt{attempt}, map[int]int64{0: rec.ID}); err != nil {
			c.logger.WithError(err).WithField("attempt_id", rec.ID).Error("Failed to record replayed attempt")
			return
		}
		replayed = append(replayed, rec.ID)
	}

	for _, rec := range single {
		sender := c.senders[rec.Attempt.Channel]
		record(rec, sender.Send(ctx, rec.Attempt.Recipient, rec.Attempt.Message))
	}

	if len(bulk) > 0 {
		byChannel := map[notification.Channel][]*notification.AttemptRecord{}
		for _, rec := range bulk {
			byChannel[rec.Attempt.Channel] = append(byChannel[rec.Attempt.Channel], rec)
		}
		for ch, recs := range byChannel {
			recipients := make([]notification.BulkRecipient, 0, len(recs))
			for _, rec := range recs {
				recipients = append(recipients, notification.BulkRecipient{Recipient: rec.Attempt.Recipient, Message: rec.Attempt.Message})
			}
			res := c.senders[ch].(notification.BulkSender).SendBulk(ctx, recipients)
			for i, attempt := range res.Attempts {
				record(recs[i], attempt)
			}
		}
	}

	if err := c.attempts.MarkReplayed(ctx, replayed); err != nil {
		return summary, fmt.Errorf("failed to mark attempts replayed: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"replayed":  summary.Replayed,
		"succeeded": summary.Succeeded,
		"skipped":   summary.Skipped,
	}).Info("Failed delivery replay finished")
	return summary, nil
}

// RefreshSMSStatuses polls the provider for SMS sent at or after since whose
// final status is not known yet.
func (c *BatchCoordinator) RefreshSMSStatuses(ctx context.Context, since time.Time) (int, error) {
	if c.attempts == nil || c.status == nil {
		return 0, fmt.Errorf("delivery status lookup not configured")
	}

	records, err := c.attempts.ListAwaitingProviderStatus(ctx, notification.ChannelSMS, since, defaultReplayBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list attempts awaiting status: %w", err)
	}

	updated := 0
	for _, rec := range records {
		st := c.status.CheckStatus(ctx, rec.Attempt.ProviderRef)
		if st.Status == "" || st.Status == "unknown" || st.Status == rec.ProviderStatus {
			continue
		}
		if err := c.attempts.UpdateProviderStatus(ctx, rec.ID, st.Status); err != nil {
			c.logger.WithError(err).WithField("attempt_id", rec.ID).Error("Failed to store provider status")
			continue
		}
		updated++
	}
	return updated, nil
}
