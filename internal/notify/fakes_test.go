package notify

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/queue"
	"github.com/kursadbilgin/podledger/internal/repository"
)

type fakeNotificationRepo struct {
	createManyFn      func(ctx context.Context, notifications []domain.Notification) (int64, error)
	existsForRecordFn func(ctx context.Context, recordID string) (bool, error)
	listFn            func(ctx context.Context, params repository.ListParams) ([]domain.Notification, error)
	listDueFn         func(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	countDueFn        func(ctx context.Context, now time.Time) (int64, error)
	markReadFn        func(ctx context.Context, id string) error
	markAllReadFn     func(ctx context.Context) (int64, error)
}

func (f *fakeNotificationRepo) CreateMany(ctx context.Context, notifications []domain.Notification) (int64, error) {
	if f.createManyFn == nil {
		return int64(len(notifications)), nil
	}
	return f.createManyFn(ctx, notifications)
}

func (f *fakeNotificationRepo) ExistsForRecord(ctx context.Context, recordID string) (bool, error) {
	if f.existsForRecordFn == nil {
		return false, nil
	}
	return f.existsForRecordFn(ctx, recordID)
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, params)
}

func (f *fakeNotificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	if f.listDueFn == nil {
		return nil, nil
	}
	return f.listDueFn(ctx, now, limit)
}

func (f *fakeNotificationRepo) CountDue(ctx context.Context, now time.Time) (int64, error) {
	if f.countDueFn == nil {
		return 0, nil
	}
	return f.countDueFn(ctx, now)
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id string) error {
	if f.markReadFn == nil {
		return nil
	}
	return f.markReadFn(ctx, id)
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context) (int64, error) {
	if f.markAllReadFn == nil {
		return 0, nil
	}
	return f.markAllReadFn(ctx)
}

// memoryNotifications is a stateful repo for seeding tests.
type memoryNotifications struct {
	fakeNotificationRepo

	mu      sync.Mutex
	rows    []domain.Notification
	creates int
}

func newMemoryNotifications() *memoryNotifications {
	m := &memoryNotifications{}
	m.createManyFn = func(_ context.Context, notifications []domain.Notification) (int64, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.creates++
		m.rows = append(m.rows, notifications...)
		return int64(len(notifications)), nil
	}
	m.existsForRecordFn = func(_ context.Context, recordID string) (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, n := range m.rows {
			if n.RecordID == recordID {
				return true, nil
			}
		}
		return false, nil
	}
	return m
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queue string, msg queue.StageDueMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, q string, msg queue.StageDueMessage) error {
	if f.publishFn == nil {
		return nil
	}
	return f.publishFn(ctx, q, msg)
}

func (f *fakePublisher) Close() error { return nil }

type memoryDeduper struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{claimed: map[string]bool{}}
}

func (d *memoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[id] {
		return false, nil
	}
	d.claimed[id] = true
	return true, nil
}

func (d *memoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, id)
	return nil
}
