package app

import (
	"context"
	"fmt"
	"time"

	"student_risk_notifier/internal/domain/notification"
	"student_risk_notifier/internal/domain/risk"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultFanOutConcurrency = 4

// GuardianEscalator fans a risk event out to every guardian of a student on
// every channel the guardian has an address for.
type GuardianEscalator struct {
	resolver    StudentResolver
	email       notification.Sender
	sms         notification.Sender
	attempts    notification.AttemptRepository
	concurrency int
	timeout     time.Duration
	logger      *logrus.Entry
}

func NewGuardianEscalator(resolver StudentResolver, email, sms notification.Sender, concurrency int, timeout time.Duration, logger *logrus.Entry) *GuardianEscalator {
	if concurrency < 1 {
		concurrency = defaultFanOutConcurrency
	}
	return &GuardianEscalator{
		resolver:    resolver,
		email:       email,
		sms:         sms,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}
}

// SetAttemptRepository enables persisting attempts for replay and audit.
func (e *GuardianEscalator) SetAttemptRepository(r notification.AttemptRepository) {
	e.attempts = r
}

type deliveryJob struct {
	guardian  string
	sender    notification.Sender
	recipient string
	msg       notification.Message
}

// Escalate sends every attempt independently and joins them before returning.
// Channel and guardian failures are recorded in the result, never returned;
// the error is reserved for an invalid level or an unresolvable student.
func (e *GuardianEscalator) Escalate(ctx context.Context, studentID string, level risk.Level, reason string) (*notification.GuardianResult, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", risk.ErrInvalidRiskLevel, string(level))
	}
	log := e.logger.WithFields(logrus.Fields{"student_id": studentID, "risk_level": level})

	st, err := e.resolver.Resolve(ctx, studentID)
	if err != nil {
		return nil, err
	}

	result := &notification.GuardianResult{
		StudentID:     st.ID,
		GuardianCount: len(st.Guardians),
		Attempts:      []notification.DeliveryAttempt{},
	}

	smsText := GuardianSMS(st, level, reason)
	jobs := make([]deliveryJob, 0, 2*len(st.Guardians))
	for _, g := range st.Guardians {
		if g.Email.Valid {
			subject, body, err := GuardianEmail(g.Name, st, level, reason)
			if err != nil {
				// a template failure only costs this one attempt
				a := notification.Failed(notification.ChannelEmail, g.Email.String, err)
				a.GuardianName = g.Name
				result.Attempts = append(result.Attempts, a)
			} else {
				jobs = append(jobs, deliveryJob{guardian: g.Name, sender: e.email, recipient: g.Email.String,
					msg: notification.Message{Subject: subject, Body: body}})
			}
		}
		if g.Phone.Valid {
			jobs = append(jobs, deliveryJob{guardian: g.Name, sender: e.sms, recipient: g.Phone.String,
				msg: notification.Message{Body: smsText}})
		}
	}

	if len(jobs) == 0 && len(result.Attempts) == 0 {
		result.Summarize()
		log.WithField("guardian_count", result.GuardianCount).Info("No guardian contacts to notify")
		return result, nil
	}

	result.Attempts = append(result.Attempts, e.deliver(ctx, jobs)...)
	result.Summarize()

	if e.attempts != nil {
		if err := e.attempts.SaveAttempts(ctx, st.ID, result.Attempts, nil); err != nil {
			log.WithError(err).Error("Failed to record guardian delivery attempts")
		}
	}

	log.WithFields(logrus.Fields{
		"guardian_count": result.GuardianCount,
		"attempts":       len(result.Attempts),
		"sent":           result.SentCount(),
		"status":         result.Status,
	}).Info("Guardian escalation finished")
	return result, nil
}

// deliver runs jobs with bounded concurrency. Results keep job order.
func (e *GuardianEscalator) deliver(ctx context.Context, jobs []deliveryJob) []notification.DeliveryAttempt {
	out := make([]notification.DeliveryAttempt, len(jobs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			out[i] = e.send(ctx, job)
			return nil
		})
	}
	_ = g.Wait() // jobs never return errors

	return out
}

func (e *GuardianEscalator) send(ctx context.Context, job deliveryJob) notification.DeliveryAttempt {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	attempt := job.sender.Send(ctx, job.recipient, job.msg)
	attempt.GuardianName = job.guardian
	attempt.Message = job.msg
	if !attempt.Success {
		e.logger.WithFields(logrus.Fields{
			"channel":   attempt.Channel,
			"recipient": attempt.Recipient,
			"guardian":  job.guardian,
		}).Warnf("Guardian delivery failed: %s", attempt.ErrorDetail)
	}
	return attempt
}
