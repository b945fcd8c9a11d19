package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"school-portal/backend/conversation/events"
	"school-portal/backend/conversation/models"
	"school-portal/backend/conversation/repository"
	"school-portal/backend/pkg/logger"
)

// MaxArchiveThresholdDays bounds the archive threshold at one hundred years
const MaxArchiveThresholdDays = 36500

// ArchiveBatch is the payload of TypeConversationArchived. It lists the ids selected for
// the batch; Archived counts how many of them this run actually moved.
type ArchiveBatch struct {
	IDs      []string  `json:"ids"`
	Archived int64     `json:"archived"`
	Cutoff   time.Time `json:"cutoff"`
}

// ArchiveStale moves every active conversation idle for longer than thresholdDays to
// archived and returns how many were moved. Work is done in bulk batches; when a batch
// fails its ids are retried one by one, and ids that still fail are logged and skipped.
// Nothing already archived is rolled back, so the call is safe to repeat.
func (s *ConversationService) ArchiveStale(ctx context.Context, thresholdDays int) (total int64, err error) {
	ctx, span, start := s.startSpan(ctx, "archive_stale", attribute.Int("threshold_days", thresholdDays))
	defer func() {
		span.SetAttributes(attribute.Int64("archived", total))
		s.endSpan(ctx, span, "archive_stale", start, err)
	}()

	if thresholdDays < 0 || thresholdDays > MaxArchiveThresholdDays {
		return 0, models.NewValidationError("thresholdDays", "range",
			fmt.Sprintf("threshold must be between 0 and %d days", MaxArchiveThresholdDays))
	}

	log := logger.FromContext(ctx)
	now := s.now()
	cutoff := now.AddDate(0, 0, -thresholdDays)

	ids, err := s.repo.FindIDs(ctx, repository.Filter{
		Status:         models.StatusActive,
		InactiveBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("select stale conversations: %w", err)
	}
	if len(ids) == 0 {
		log.Info("archive sweep found nothing to do", "cutoff", cutoff)
		return 0, nil
	}

	var failed int64
	for batchStart := 0; batchStart < len(ids); batchStart += s.batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch := ids[batchStart:min(batchStart+s.batchSize, len(ids))]

		n, err := s.repo.ArchiveByIDs(ctx, batch, cutoff, now)
		if err != nil {
			log.LogError(err, "bulk archive failed, falling back to single records", "batch_size", len(batch))
			var f int64
			n, f = s.archiveEach(ctx, batch, cutoff, now)
			failed += f
		}
		total += n
		s.metrics.Archived(ctx, n)

		if n > 0 {
			s.publish(ctx, events.Event{
				Type:       events.TypeConversationArchived,
				OccurredAt: s.now(),
				Payload:    ArchiveBatch{IDs: batch, Archived: n, Cutoff: cutoff},
			})
		}
	}

	s.metrics.ArchiveFailed(ctx, failed)
	log.Info("archive sweep finished",
		"threshold_days", thresholdDays,
		"candidates", len(ids),
		"archived", total,
		"failed", failed,
	)
	return total, nil
}

// archiveEach archives ids one at a time, returning archived and failed counts
func (s *ConversationService) archiveEach(ctx context.Context, ids []string, cutoff, now time.Time) (archived, failed int64) {
	log := logger.FromContext(ctx)
	for i, id := range ids {
		if ctx.Err() != nil {
			return archived, failed + int64(len(ids)-i)
		}
		n, err := s.repo.ArchiveByIDs(ctx, []string{id}, cutoff, now)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.LogError(err, "failed to archive conversation", "conversation_id", id)
			}
			failed++
			continue
		}
		archived += n
	}
	return archived, failed
}
