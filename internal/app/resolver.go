package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"student_risk_notifier/internal/domain/student"

	"github.com/sirupsen/logrus"
)

// StudentResolver yields the notifiable view of a student.
type StudentResolver interface {
	Resolve(ctx context.Context, studentID string) (*student.NotifiableStudent, error)
}

// GuardianResolver loads a student's school and guardian contacts, reading
// through an optional cache. Cache failures never fail a resolution.
type GuardianResolver struct {
	repo   student.Repository
	cache  student.Cache
	ttl    time.Duration
	logger *logrus.Entry
}

func NewGuardianResolver(repo student.Repository, cache student.Cache, ttl time.Duration, logger *logrus.Entry) *GuardianResolver {
	return &GuardianResolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns student.ErrStudentNotFound (wrapped) for unknown ids.
func (r *GuardianResolver) Resolve(ctx context.Context, studentID string) (*student.NotifiableStudent, error) {
	log := r.logger.WithField("student_id", studentID)

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, studentID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, student.ErrCacheMiss) {
			log.WithError(err).Warn("Student cache read failed, falling back to repository")
		}
	}

	st, err := r.repo.GetWithGuardians(ctx, studentID)
	if err != nil {
		if errors.Is(err, student.ErrStudentNotFound) {
			return nil, fmt.Errorf("resolve %s: %w", studentID, err)
		}
		return nil, fmt.Errorf("failed to load student %s: %w", studentID, err)
	}

	if r.cache != nil && r.ttl > 0 {
		if err := r.cache.Set(ctx, st, r.ttl); err != nil {
			log.WithError(err).Warn("Student cache write failed")
		}
	}
	return st, nil
}

// Invalidate drops a cached student, e.g. after guardian contacts changed.
func (r *GuardianResolver) Invalidate(ctx context.Context, studentID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, studentID)
}
