package stores

import (
	"context"
	"errors"
	"time"

	"github.com/malwarebo/partnersync/models"
	"gorm.io/gorm"
)

var (
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrItemNotFound      = errors.New("queue item not found")
	ErrItemNotClaimable  = errors.New("queue item is not claimable")
	ErrInvalidTransition = errors.New("queue item is not in a state that allows this transition")
)

const (
	maxBackoff    = 64 * time.Minute
	claimAttempts = 3
	staleMessage  = "processing timed out"
)

// Backoff returns the delay before retry n (1-based): 1, 2, 4, ... minutes,
// capped at 64 minutes.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 7 {
		return maxBackoff
	}
	d := time.Duration(1<<(attempts-1)) * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

type QueueStore struct {
	BaseStore
	maxAttempts int
	now         func() time.Time
}

func CreateQueueStore(db *gorm.DB, maxAttempts int) *QueueStore {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	return &QueueStore{
		BaseStore:   BaseStore{db: db},
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *QueueStore) prepare(item *models.QueueItem) {
	item.ID = 0
	item.Status = models.QueueItemStatusPending
	item.Attempts = 0
	item.NextRetryAt = nil
	item.StartedAt = nil
	item.ProcessedAt = nil
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = s.maxAttempts
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
}

func (s *QueueStore) Enqueue(ctx context.Context, item *models.QueueItem) (uint64, error) {
	s.prepare(item)
	if err := s.GetDB(ctx).Create(item).Error; err != nil {
		return 0, err
	}
	return item.ID, nil
}

// EnqueueBatch inserts every item or none of them.
func (s *QueueStore) EnqueueBatch(ctx context.Context, items []*models.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, item := range items {
			s.prepare(item)
		}
		return s.GetDB(txCtx).Create(items).Error
	})
}

func (s *QueueStore) ready(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where(
		"(status = ? OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)) AND attempts < max_attempts",
		models.QueueItemStatusPending, models.QueueItemStatusFailed, now,
	)
}

// Dequeue returns the oldest eligible item without claiming it.
func (s *QueueStore) Dequeue(ctx context.Context) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.ready(s.Primary(ctx), s.now()).
		Order("created_at ASC").
		Order("id ASC").
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkProcessing claims the item with a conditional update; only one caller
// can move a given item into processing.
func (s *QueueStore) MarkProcessing(ctx context.Context, id uint64) error {
	now := s.now()
	result := s.ready(s.GetDB(ctx).Model(&models.QueueItem{}).Where("id = ?", id), now).
		Updates(map[string]interface{}{
			"status":          models.QueueItemStatusProcessing,
			"attempts":        gorm.Expr("attempts + 1"),
			"started_at":      now,
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrItemNotClaimable
	}
	return nil
}

// Claim dequeues and marks the next item, retrying when another consumer
// wins the race for the same row.
func (s *QueueStore) Claim(ctx context.Context) (*models.QueueItem, error) {
	for i := 0; i < claimAttempts; i++ {
		item, err := s.Dequeue(ctx)
		if err != nil {
			return nil, err
		}

		err = s.MarkProcessing(ctx, item.ID)
		if errors.Is(err, ErrItemNotClaimable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.Get(ctx, item.ID)
	}
	return nil, ErrQueueEmpty
}

func (s *QueueStore) MarkCompleted(ctx context.Context, id uint64) error {
	result := s.GetDB(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.QueueItemStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.QueueItemStatusCompleted,
			"processed_at":  s.now(),
			"error_message": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// MarkFailed records the failure and schedules a retry while attempts remain.
// Once attempts reach max_attempts the item stays failed for good.
func (s *QueueStore) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	var item models.QueueItem
	if err := s.Primary(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	if item.Status != models.QueueItemStatusProcessing {
		return ErrInvalidTransition
	}

	updates := map[string]interface{}{
		"status":        models.QueueItemStatusFailed,
		"error_message": errMsg,
		"next_retry_at": nil,
	}
	if item.Attempts < item.MaxAttempts {
		updates["next_retry_at"] = s.now().Add(Backoff(item.Attempts))
	}

	result := s.GetDB(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ? AND attempts = ?", id, models.QueueItemStatusProcessing, item.Attempts).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *QueueStore) Cancel(ctx context.Context, id uint64) error {
	result := s.GetDB(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status IN ?", id, []models.QueueItemStatus{models.QueueItemStatusPending, models.QueueItemStatusFailed}).
		Update("status", models.QueueItemStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// ReleaseStale returns items stuck in processing for longer than
// maxProcessing to the failed state. Items with attempts left become
// eligible immediately; the rest become terminal.
func (s *QueueStore) ReleaseStale(ctx context.Context, maxProcessing time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-maxProcessing)
	var released int64

	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		stale := func() *gorm.DB {
			return s.GetDB(txCtx).Model(&models.QueueItem{}).
				Where("status = ? AND started_at IS NOT NULL AND started_at < ?", models.QueueItemStatusProcessing, cutoff)
		}

		retry := stale().Where("attempts < max_attempts").Updates(map[string]interface{}{
			"status":        models.QueueItemStatusFailed,
			"next_retry_at": now,
			"error_message": staleMessage,
		})
		if retry.Error != nil {
			return retry.Error
		}

		exhausted := stale().Where("attempts >= max_attempts").Updates(map[string]interface{}{
			"status":        models.QueueItemStatusFailed,
			"next_retry_at": nil,
			"error_message": staleMessage,
		})
		if exhausted.Error != nil {
			return exhausted.Error
		}

		released = retry.RowsAffected + exhausted.RowsAffected
		return nil
	})
	return released, err
}

// DeleteCompletedOlderThan is the retention sweep. It never touches rows in
// any state other than completed.
func (s *QueueStore) DeleteCompletedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age)
	result := s.GetDB(ctx).
		Where("created_at < ? AND status = ?", cutoff, models.QueueItemStatusCompleted).
		Delete(&models.QueueItem{})
	return result.RowsAffected, result.Error
}

func (s *QueueStore) Get(ctx context.Context, id uint64) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := s.Primary(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *QueueStore) List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	query := s.GetDB(ctx).Model(&models.QueueItem{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Category != nil {
		query = query.Where("category = ?", *filter.Category)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *QueueStore) Stats(ctx context.Context) (*models.QueueStats, error) {
	var rows []struct {
		Status models.QueueItemStatus
		Count  int64
	}
	if err := s.GetDB(ctx).Model(&models.QueueItem{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &models.QueueStats{}
	for _, row := range rows {
		switch row.Status {
		case models.QueueItemStatusPending:
			stats.Pending = row.Count
		case models.QueueItemStatusProcessing:
			stats.Processing = row.Count
		case models.QueueItemStatusCompleted:
			stats.Completed = row.Count
		case models.QueueItemStatusFailed:
			stats.Failed = row.Count
		case models.QueueItemStatusCancelled:
			stats.Cancelled = row.Count
		}
		stats.Total += row.Count
	}
	return stats, nil
}

func (s *QueueStore) transitionError(ctx context.Context, id uint64) error {
	var count int64
	if err := s.GetDB(ctx).Model(&models.QueueItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrItemNotFound
	}
	return ErrInvalidTransition
}
