package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"student_risk_notifier/internal/domain/notification"
	"student_risk_notifier/internal/domain/student"
	idb "student_risk_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func contact(name, email, phone string) student.GuardianContact {
	return student.GuardianContact{
		Name:  name,
		Email: sql.NullString{String: email, Valid: email != ""},
		Phone: sql.NullString{String: phone, Valid: phone != ""},
	}
}

func sampleStudent(id string, guardians ...student.GuardianContact) *student.NotifiableStudent {
	return &student.NotifiableStudent{
		ID:          id,
		DisplayName: "Aline Uwase",
		ClassName:   "P5 A",
		SchoolID:    "school-1",
		SchoolName:  "Green Hills Academy",
		Guardians:   guardians,
	}
}

type fakeStudentRepo struct {
	mu       sync.Mutex
	students map[string]*student.NotifiableStudent
	calls    int
}

func newFakeStudentRepo(students ...*student.NotifiableStudent) *fakeStudentRepo {
	r := &fakeStudentRepo{students: map[string]*student.NotifiableStudent{}}
	for _, s := range students {
		r.students[s.ID] = s
	}
	return r
}

func (r *fakeStudentRepo) GetWithGuardians(_ context.Context, id string) (*student.NotifiableStudent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	s, ok := r.students[id]
	if !ok {
		return nil, student.ErrStudentNotFound
	}
	cp := *s
	return &cp, nil
}

type fakeCache struct {
	mu      sync.Mutex
	items   map[string]*student.NotifiableStudent
	failGet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: map[string]*student.NotifiableStudent{}}
}

func (c *fakeCache) Get(_ context.Context, id string) (*student.NotifiableStudent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, fmt.Errorf("redis: connection refused")
	}
	s, ok := c.items[id]
	if !ok {
		return nil, student.ErrCacheMiss
	}
	return s, nil
}

func (c *fakeCache) Set(_ context.Context, s *student.NotifiableStudent, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.ID] = s
	return nil
}

func (c *fakeCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}

// memoryNotificationRepo serialises UpsertActive with a mutex, the same way
// the Postgres repository serialises it with an advisory lock.
type memoryNotificationRepo struct {
	mu     sync.Mutex
	rows   []*notification.StaffNotification
	nextID int64
	// upsertErr fails every UpsertActive call while set
	upsertErr error
}

func (r *memoryNotificationRepo) UpsertActive(_ context.Context, key notification.DedupKey, since time.Time, apply notification.UpsertFunc) (*notification.StaffNotification, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, false, r.upsertErr
	}

	var existing *notification.StaffNotification
	for _, n := range r.rows {
		if n.Key() == key && !n.IsRead && !n.CreatedAt.Before(since) {
			existing = n
			break
		}
	}
	next := apply(existing)
	if existing != nil && next == existing {
		cp := *next
		return &cp, false, nil
	}
	r.nextID++
	next.ID = r.nextID
	r.rows = append(r.rows, next)
	cp := *next
	return &cp, true, nil
}

func (r *memoryNotificationRepo) GetByID(_ context.Context, id int64) (*notification.StaffNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id {
			cp := *n
			return &cp, nil
		}
	}
	return nil, idb.ErrNotificationNotFound
}

func (r *memoryNotificationRepo) List(_ context.Context, f notification.ListFilter) ([]*notification.StaffNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*notification.StaffNotification{}
	for i := len(r.rows) - 1; i >= 0; i-- {
		n := r.rows[i]
		if n.SchoolID != f.SchoolID || (f.UnreadOnly && n.IsRead) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryNotificationRepo) MarkRead(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.rows {
		if n.ID == id {
			n.IsRead = true
			return nil
		}
	}
	return idb.ErrNotificationNotFound
}

func (r *memoryNotificationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// fakeSender records every send and fails recipients listed in failFor.
type fakeSender struct {
	mu       sync.Mutex
	channel  notification.Channel
	disabled bool
	failFor  map[string]bool
	sent     []string
	delay    time.Duration
}

func newFakeSender(ch notification.Channel) *fakeSender {
	return &fakeSender{channel: ch, failFor: map[string]bool{}}
}

func (s *fakeSender) Channel() notification.Channel { return s.channel }
func (s *fakeSender) Enabled() bool                 { return !s.disabled }

func (s *fakeSender) Send(ctx context.Context, recipient string, msg notification.Message) notification.DeliveryAttempt {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return notification.Failed(s.channel, recipient, fmt.Errorf("%w: %v", notification.ErrTransportFailure, ctx.Err()))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	if s.disabled {
		return notification.Failed(s.channel, recipient, notification.ErrChannelNotConfigured)
	}
	if s.failFor[recipient] {
		return notification.Failed(s.channel, recipient, fmt.Errorf("%w: provider rejected", notification.ErrTransportFailure))
	}
	return notification.DeliveryAttempt{
		Channel:     s.channel,
		Recipient:   recipient,
		Success:     true,
		ProviderRef: "ref-" + recipient,
		Message:     msg,
		AttemptedAt: time.Now(),
	}
}

func (s *fakeSender) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// fakeBulkSender adds SendBulk on top of fakeSender.
type fakeBulkSender struct {
	*fakeSender
	bulkCalls int
}

func (s *fakeBulkSender) SendBulk(ctx context.Context, recipients []notification.BulkRecipient) notification.BulkResult {
	s.bulkCalls++
	res := notification.BulkResult{}
	for _, r := range recipients {
		a := s.Send(ctx, r.Recipient, r.Message)
		if a.Success {
			res.Sent++
		} else {
			res.Failed++
		}
		res.Attempts = append(res.Attempts, a)
	}
	res.Success = res.Sent > 0
	return res
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	records  []*notification.AttemptRecord
	nextID   int64
	replayed []int64
	statuses map[int64]string
	// markErr fails the next MarkReplayed call once
	markErr error
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{statuses: map[int64]string{}}
}

func (r *fakeAttemptRepo) SaveAttempts(_ context.Context, studentID string, attempts []notification.DeliveryAttempt, replayOf map[int]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range attempts {
		r.nextID++
		rec := &notification.AttemptRecord{ID: r.nextID, StudentID: studentID, Attempt: a}
		if id, ok := replayOf[i]; ok {
			orig := id
			rec.ReplayOf = &orig
		}
		r.records = append(r.records, rec)
	}
	return nil
}

func (r *fakeAttemptRepo) ListFailedForReplay(_ context.Context, since time.Time, _ int) ([]*notification.AttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hasReplay := map[int64]bool{}
	for _, rec := range r.records {
		if rec.ReplayOf != nil {
			hasReplay[*rec.ReplayOf] = true
		}
	}
	out := []*notification.AttemptRecord{}
	for _, rec := range r.records {
		if !rec.Attempt.Success && rec.ReplayOf == nil && rec.ReplayedAt == nil && !hasReplay[rec.ID] && !rec.Attempt.AttemptedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeAttemptRepo) MarkReplayed(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.markErr; err != nil {
		r.markErr = nil
		return err
	}
	now := time.Now()
	for _, id := range ids {
		for _, rec := range r.records {
			if rec.ID == id {
				rec.ReplayedAt = &now
			}
		}
	}
	r.replayed = append(r.replayed, ids...)
	return nil
}

func (r *fakeAttemptRepo) ListAwaitingProviderStatus(_ context.Context, ch notification.Channel, since time.Time, _ int) ([]*notification.AttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*notification.AttemptRecord{}
	for _, rec := range r.records {
		if rec.Attempt.Channel == ch && rec.Attempt.Success && rec.Attempt.ProviderRef != "" && !rec.Attempt.AttemptedAt.Before(since) {
			rec.ProviderStatus = r.statuses[rec.ID]
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeAttemptRepo) UpdateProviderStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

type fakeStatusChecker map[string]string

func (f fakeStatusChecker) CheckStatus(_ context.Context, ref string) notification.ProviderStatus {
	if s, ok := f[ref]; ok {
		return notification.ProviderStatus{Status: s}
	}
	return notification.ProviderStatus{Status: "unknown"}
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*notification.StaffNotification
}

func (p *recordingPublisher) PublishCreated(_ context.Context, n *notification.StaffNotification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, n)
}
