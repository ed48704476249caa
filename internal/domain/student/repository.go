package student

import (
	"context"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by a Cache when nothing is stored for the key.
var ErrCacheMiss = fmt.Errorf("student cache miss")

// Repository reads student data owned by the school administration app.
type Repository interface {
	GetWithGuardians(ctx context.Context, studentID string) (*NotifiableStudent, error)
}

// Cache holds recently resolved students.
type Cache interface {
	Get(ctx context.Context, studentID string) (*NotifiableStudent, error)
	Set(ctx context.Context, s *NotifiableStudent, ttl time.Duration) error
	Delete(ctx context.Context, studentID string) error
}
