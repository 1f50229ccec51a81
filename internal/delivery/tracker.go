package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

// Store persists delivery sets. GetDeliveryState returns
// domain.ErrMessageNotFound for an unknown id. AddReceipt must be a
// commutative set union: Delivered adds to the delivered set, Seen adds to
// both sets. It returns the state read back after the write, so it includes
// receipts merged concurrently by other relay instances.
type Store interface {
	GetDeliveryState(ctx context.Context, messageID uuid.UUID) (*State, error)
	AddReceipt(ctx context.Context, messageID, userID uuid.UUID, status Status) (*State, error)
}

// Notifier is told about aggregate status changes
type Notifier interface {
	NotifyStatus(ctx context.Context, senderID uuid.UUID, update domain.StatusUpdate) error
}

// Tracker applies delivered/seen acknowledgements.
//
// Every mutation is an idempotent set union, so duplicated or reordered acks
// converge. The new aggregate is taken from the stored state after the write
// and compared with the one loaded before it. Two instances racing on one
// message may both report the same change; neither can miss it. The
// per-message lock keeps reports from one instance to one per change.
type Tracker struct {
	store    Store
	notifier Notifier
	locks    *keyedMutex
}

// NewTracker creates a Tracker
func NewTracker(store Store, notifier Notifier) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		locks:    newKeyedMutex(),
	}
}

// MarkDelivered records that recipientID received messageID. It returns the
// emitted update, or nil when the aggregate did not change.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID) (*domain.StatusUpdate, error) {
	return t.mark(ctx, messageID, recipientID, StatusDelivered)
}

// MarkSeen records that recipientID viewed every message in messageIDs.
// Seen implies Delivered. Messages that fail are skipped and their errors
// joined; the remaining messages are still processed.
func (t *Tracker) MarkSeen(ctx context.Context, messageIDs []uuid.UUID, recipientID uuid.UUID) ([]domain.StatusUpdate, error) {
	var (
		updates []domain.StatusUpdate
		errs    []error
	)

	for _, id := range messageIDs {
		update, err := t.mark(ctx, id, recipientID, StatusSeen)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if update != nil {
			updates = append(updates, *update)
		}
	}

	return updates, errors.Join(errs...)
}

func (t *Tracker) mark(ctx context.Context, messageID, recipientID uuid.UUID, status Status) (*domain.StatusUpdate, error) {
	unlock := t.locks.Lock(messageID)
	defer unlock()

	state, err := t.store.GetDeliveryState(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery state for %s: %w", messageID, err)
	}

	if !state.IsRecipient(recipientID) {
		logger.Debug("Ignoring acknowledgement from non-recipient",
			zap.String("message_id", messageID.String()),
			zap.String("user_id", recipientID.String()),
			zap.String("status", status.String()))
		return nil, nil
	}

	before := Aggregate(state)
	if !state.apply(recipientID, status) {
		return nil, nil
	}

	merged, err := t.store.AddReceipt(ctx, messageID, recipientID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s receipt: %w", status, err)
	}
	metrics.ChatDeliveryTransitionsTotal.WithLabelValues(status.String()).Inc()

	after := Aggregate(merged)
	if after <= before {
		return nil, nil
	}

	update := merged.update(after)
	metrics.ChatStatusUpdatesTotal.WithLabelValues(after.String()).Inc()

	if t.notifier != nil {
		if err := t.notifier.NotifyStatus(ctx, merged.SenderID, update); err != nil {
			logger.Warn("Failed to notify status update",
				zap.String("message_id", messageID.String()),
				zap.String("status", after.String()),
				zap.Error(err))
		}
	}

	return &update, nil
}
