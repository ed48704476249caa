package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"student_risk_notifier/internal/domain/notification"
	"student_risk_notifier/internal/domain/risk"
	"student_risk_notifier/internal/domain/student"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorFixture struct {
	coordinator *BatchCoordinator
	repo        *memoryNotificationRepo
	email       *fakeSender
	sms         *fakeBulkSender
	attempts    *fakeAttemptRepo
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		repo:     &memoryNotificationRepo{},
		email:    newFakeSender(notification.ChannelEmail),
		sms:      &fakeBulkSender{fakeSender: newFakeSender(notification.ChannelSMS)},
		attempts: newFakeAttemptRepo(),
	}
	students := newFakeStudentRepo(
		twoGuardianStudent(),
		sampleStudent("stu-2", contact("Eric", "eric@example.com", "")),
	)
	resolver := NewGuardianResolver(students, nil, 0, quietLogger())

	admin := NewAdminEscalator(resolver, f.repo, 24*time.Hour, quietLogger())
	guardian := NewGuardianEscalator(resolver, f.email, f.sms, 4, time.Second, quietLogger())
	guardian.SetAttemptRepository(f.attempts)

	f.coordinator = NewBatchCoordinator(admin, guardian, quietLogger())
	f.coordinator.SetDelivery(f.attempts, fakeStatusChecker{}, f.email, f.sms)
	return f
}

func TestEscalateEventRunsBothPaths(t *testing.T) {
	f := newCoordinatorFixture(t)

	res := f.coordinator.EscalateEvent(context.Background(), risk.Event{StudentID: "stu-1", Level: risk.LevelHigh, Type: "ATTENDANCE"})
	require.NoError(t, res.Err())
	assert.Equal(t, OutcomeCreated, res.Admin.Outcome)
	assert.Equal(t, notification.StatusNotified, res.Guardian.Status)
}

func TestEscalateEventLowOnlyReachesGuardians(t *testing.T) {
	f := newCoordinatorFixture(t)

	res := f.coordinator.EscalateEvent(context.Background(), risk.Event{StudentID: "stu-1", Level: risk.LevelLow})
	require.NoError(t, res.Err())
	assert.Equal(t, OutcomeSkipped, res.Admin.Outcome)
	assert.Equal(t, notification.StatusNotified, res.Guardian.Status)
	assert.Zero(t, f.repo.count())
}

func TestEscalateEventInvalidLevelHasNoSideEffects(t *testing.T) {
	f := newCoordinatorFixture(t)

	res := f.coordinator.EscalateEvent(context.Background(), risk.Event{StudentID: "stu-1", Level: "SEVERE"})
	assert.ErrorIs(t, res.AdminErr, risk.ErrInvalidRiskLevel)
	assert.ErrorIs(t, res.GuardianErr, risk.ErrInvalidRiskLevel)
	assert.Zero(t, f.repo.count())
	assert.Empty(t, f.email.sentTo())
}

func TestEscalateBatchContinuesPastFailures(t *testing.T) {
	f := newCoordinatorFixture(t)

	events := []risk.Event{
		{StudentID: "stu-1", Level: risk.LevelHigh},
		{StudentID: "ghost", Level: risk.LevelHigh},
		{StudentID: "stu-2", Level: risk.LevelCritical},
	}
	results := f.coordinator.EscalateBatch(context.Background(), events)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err())
	assert.ErrorIs(t, results[1].AdminErr, student.ErrStudentNotFound)
	assert.ErrorIs(t, results[1].GuardianErr, student.ErrStudentNotFound)
	assert.NoError(t, results[2].Err())
	assert.Equal(t, "stu-2", results[2].Event.StudentID)
	assert.Equal(t, 2, f.repo.count())
}

func TestEscalateStudents(t *testing.T) {
	f := newCoordinatorFixture(t)

	results := f.coordinator.EscalateStudents(context.Background(), []string{"stu-1", "stu-2"}, risk.LevelMedium, "PERFORMANCE", "Term grades dropped")
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err())
		assert.Equal(t, risk.LevelMedium, r.Event.Level)
	}
}

func TestEscalateAsyncSurvivesCallerCancel(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.email.delay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	out := f.coordinator.EscalateAsync(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh})
	cancel()

	f.coordinator.Wait()
	res, ok := <-out
	require.True(t, ok)
	require.NoError(t, res.Err())
	assert.Equal(t, notification.StatusNotified, res.Guardian.Status)

	_, ok = <-out
	assert.False(t, ok, "channel is closed after the result")
}

type fakeInbox struct {
	mu        sync.Mutex
	entries   []*risk.InboxEntry
	processed map[int64]string
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{processed: map[int64]string{}}
}

func (i *fakeInbox) Enqueue(_ context.Context, ev risk.Event) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id := int64(len(i.entries) + 1)
	i.entries = append(i.entries, &risk.InboxEntry{ID: id, StudentID: ev.StudentID, RawLevel: string(ev.Level), Type: ev.Type, Reason: ev.Reason, CreatedAt: time.Now()})
	return id, nil
}

func (i *fakeInbox) ListPending(_ context.Context, limit int) ([]*risk.InboxEntry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := []*risk.InboxEntry{}
	for _, e := range i.entries {
		if _, done := i.processed[e.ID]; !done && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (i *fakeInbox) MarkProcessed(_ context.Context, id int64, errText string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.processed[id] = errText
	return nil
}

func (i *fakeInbox) MarkRetry(_ context.Context, id int64, errText string, maxAttempts int) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, e := range i.entries {
		if e.ID != id {
			continue
		}
		e.Attempts++
		e.LastError = errText
		if e.Attempts >= maxAttempts {
			i.processed[id] = errText
			return true, nil
		}
		return false, nil
	}
	return false, fmt.Errorf("risk event %d not found", id)
}

func TestProcessInbox(t *testing.T) {
	f := newCoordinatorFixture(t)
	inbox := newFakeInbox()
	f.coordinator.SetInbox(inbox)
	ctx := context.Background()

	_, _ = inbox.Enqueue(ctx, risk.Event{StudentID: "stu-1", Level: "HIGH"})
	_, _ = inbox.Enqueue(ctx, risk.Event{StudentID: "stu-2", Level: ""})
	_, _ = inbox.Enqueue(ctx, risk.Event{StudentID: "ghost", Level: "CRITICAL"})
	_, _ = inbox.Enqueue(ctx, risk.Event{StudentID: "stu-2", Level: "high"})

	n, err := f.coordinator.ProcessInbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, inbox.processed, 4)
	assert.Empty(t, inbox.processed[1])
	assert.Contains(t, inbox.processed[2], "invalid risk level")
	assert.Contains(t, inbox.processed[3], "student not found")
	assert.Contains(t, inbox.processed[4], "invalid risk level")
	assert.Equal(t, 1, f.repo.count())

	n, err = f.coordinator.ProcessInbox(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessInboxRetriesStoreFailures(t *testing.T) {
	f := newCoordinatorFixture(t)
	inbox := newFakeInbox()
	f.coordinator.SetInbox(inbox)
	ctx := context.Background()

	id, _ := inbox.Enqueue(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh})
	f.repo.upsertErr = fmt.Errorf("connection refused")

	_, err := f.coordinator.ProcessInbox(ctx, 0)
	require.NoError(t, err)
	assert.NotContains(t, inbox.processed, id, "a store failure leaves the event pending")
	assert.Equal(t, 1, inbox.entries[0].Attempts)
	assert.Contains(t, inbox.entries[0].LastError, "connection refused")

	f.repo.upsertErr = nil
	_, err = f.coordinator.ProcessInbox(ctx, 0)
	require.NoError(t, err)
	require.Contains(t, inbox.processed, id)
	assert.Empty(t, inbox.processed[id])
	assert.Equal(t, 1, f.repo.count())
}

func TestProcessInboxGivesUpAfterMaxAttempts(t *testing.T) {
	f := newCoordinatorFixture(t)
	inbox := newFakeInbox()
	f.coordinator.SetInbox(inbox)
	ctx := context.Background()

	id, _ := inbox.Enqueue(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh})
	f.repo.upsertErr = fmt.Errorf("connection refused")

	for range maxInboxAttempts {
		_, err := f.coordinator.ProcessInbox(ctx, 0)
		require.NoError(t, err)
	}
	require.Contains(t, inbox.processed, id)
	assert.Contains(t, inbox.processed[id], "connection refused")

	n, err := f.coordinator.ProcessInbox(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessInboxNotConfigured(t *testing.T) {
	f := newCoordinatorFixture(t)
	_, err := f.coordinator.ProcessInbox(context.Background(), 10)
	assert.Error(t, err)
}

func TestReplayFailed(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	f.sms.failFor["0788123456"] = true
	f.email.failFor["jean@example.com"] = true
	res := f.coordinator.EscalateEvent(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh})
	require.NoError(t, res.Err())
	require.Equal(t, notification.StatusPartial, res.Guardian.Status)

	// the SMS provider recovers, the email one does not
	f.sms.failFor = map[string]bool{}

	summary, err := f.coordinator.ReplayFailed(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Replayed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, f.sms.bulkCalls)
	assert.Len(t, f.attempts.replayed, 2)

	replays := 0
	for _, rec := range f.attempts.records {
		if rec.ReplayOf != nil {
			replays++
			assert.NotEmpty(t, rec.Attempt.GuardianName)
			assert.NotEmpty(t, rec.Attempt.Message.Body)
		}
	}
	assert.Equal(t, 2, replays)

	// originals are replayed at most once, replays are never replayed
	summary, err = f.coordinator.ReplayFailed(ctx, since)
	require.NoError(t, err)
	assert.Zero(t, summary.Replayed)
}

func TestReplayFailedDoesNotResendWhenMarkingFails(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	f.sms.failFor["0788123456"] = true
	f.coordinator.EscalateEvent(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh})
	f.sms.failFor = map[string]bool{}
	f.attempts.markErr = fmt.Errorf("connection reset")

	_, err := f.coordinator.ReplayFailed(ctx, since)
	require.ErrorContains(t, err, "connection reset")

	summary, err := f.coordinator.ReplayFailed(ctx, since)
	require.NoError(t, err)
	assert.Zero(t, summary.Replayed)

	sends := 0
	for _, to := range f.sms.sentTo() {
		if to == "0788123456" {
			sends++
		}
	}
	assert.Equal(t, 2, sends, "one original send and one replay")
}

func TestReplayFailedSkipsDisabledChannel(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.sms.failFor["0788123456"] = true
	f.coordinator.EscalateEvent(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh})

	f.sms.disabled = true
	summary, err := f.coordinator.ReplayFailed(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Replayed)
	assert.Empty(t, f.attempts.replayed)
}

func TestRefreshSMSStatuses(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	f.coordinator.status = fakeStatusChecker{"ref-0788123456": "delivered"}

	require.NoError(t, f.coordinator.EscalateEvent(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh}).Err())

	n, err := f.coordinator.RefreshSMSStatuses(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var smsID int64
	for _, rec := range f.attempts.records {
		if rec.Attempt.Channel == notification.ChannelSMS {
			smsID = rec.ID
		}
	}
	assert.Equal(t, "delivered", f.attempts.statuses[smsID])

	// unchanged status is not written again
	n, err = f.coordinator.RefreshSMSStatuses(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshSMSStatusesIgnoresUnknown(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.EscalateEvent(ctx, risk.Event{StudentID: "stu-1", Level: risk.LevelHigh}).Err())

	n, err := f.coordinator.RefreshSMSStatuses(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.attempts.statuses)
}

func TestPerEventResultErr(t *testing.T) {
	guardianErr := fmt.Errorf("guardian")
	assert.Equal(t, guardianErr, PerEventResult{GuardianErr: guardianErr}.Err())
	adminErr := fmt.Errorf("admin")
	assert.Equal(t, adminErr, PerEventResult{AdminErr: adminErr, GuardianErr: guardianErr}.Err())
	assert.NoError(t, PerEventResult{}.Err())
}
