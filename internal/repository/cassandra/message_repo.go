package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/delivery"
	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

const messageColumns = `chat_id, created_at, message_id, sender_id, kind, is_group,
	content_ciphertext, iv, wrapped_keys,
	system_action, system_target, system_initiator,
	call_type, call_duration, call_status, forwarded_from,
	recipients, delivered_to, seen_by, deleted_for, deleted_for_all`

// MessageRepository handles message storage in Cassandra.
// Envelope fields are stored as the opaque base64 text received.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

type rowKey struct {
	chatID    gocql.UUID
	createdAt time.Time
}

// Save inserts a new message. A message id that was already stored returns
// domain.ErrDuplicateMessage so resent messages are deduplicated.
//
// The index row claims the id before the message row is written. If that
// write fails the claim is released; a claim left behind by a crashed writer
// is resumed by the next send with the same id, at the indexed timestamp.
func (r *MessageRepository) Save(ctx context.Context, m *domain.Message) error {
	start := time.Now()

	existing := map[string]interface{}{}
	applied, err := r.session.Query(
		`INSERT INTO message_index (message_id, chat_id, created_at) VALUES (?, ?, ?) IF NOT EXISTS`,
		toCQL(m.MessageID), toCQL(m.ChatID), m.CreatedAt,
	).WithContext(ctx).MapScanCAS(existing)
	metrics.ObserveCassandraQuery("insert", "message_index", start, err)
	if err != nil {
		return fmt.Errorf("failed to index message: %w", err)
	}
	if !applied {
		key, ok := indexedKey(existing)
		if !ok || key.chatID != toCQL(m.ChatID) {
			return domain.ErrDuplicateMessage
		}
		stored, err := r.rowExists(ctx, key, m.MessageID)
		if err != nil {
			return err
		}
		if stored {
			return domain.ErrDuplicateMessage
		}
		m.CreatedAt = key.createdAt.UTC()
	}

	if err := r.insert(ctx, m); err != nil {
		if applied {
			r.releaseIndex(m.MessageID)
		}
		return err
	}
	return nil
}

// indexedKey reads the row key out of the current values returned by a
// failed IF NOT EXISTS on message_index.
func indexedKey(existing map[string]interface{}) (rowKey, bool) {
	chatID, ok := existing["chat_id"].(gocql.UUID)
	if !ok {
		return rowKey{}, false
	}
	createdAt, ok := existing["created_at"].(time.Time)
	if !ok || createdAt.IsZero() {
		return rowKey{}, false
	}
	return rowKey{chatID: chatID, createdAt: createdAt}, true
}

func (r *MessageRepository) rowExists(ctx context.Context, key rowKey, messageID uuid.UUID) (bool, error) {
	var id gocql.UUID
	start := time.Now()
	err := r.session.Query(
		`SELECT message_id FROM messages WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		key.chatID, key.createdAt, toCQL(messageID),
	).WithContext(ctx).Consistency(gocql.Quorum).Scan(&id)
	metrics.ObserveCassandraQuery("select", "messages", start, err)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return true, nil
}

// releaseIndex drops a claim whose message row could not be written. It
// outlives the request context; failures are left for the resume path.
func (r *MessageRepository) releaseIndex(messageID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := r.session.Query(`DELETE FROM message_index WHERE message_id = ?`, toCQL(messageID)).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("delete", "message_index", start, err)
	if err != nil {
		logger.Warn("Failed to release message index",
			zap.String("message_id", messageID.String()),
			zap.Error(err))
	}
}

func (r *MessageRepository) insert(ctx context.Context, m *domain.Message) error {
	var ciphertext, iv interface{}
	var wrapped map[gocql.UUID]string
	if m.Envelope != nil {
		ciphertext, iv = m.Envelope.ContentCiphertext, m.Envelope.IV
		wrapped = toCQLMap(m.Envelope.WrappedKeys)
	}

	var sysAction, sysTarget, sysInitiator interface{}
	if m.System != nil {
		sysAction = string(m.System.Action)
		sysTarget = toCQL(m.System.TargetUser)
		sysInitiator = toCQL(m.System.Initiator)
	}

	var callType, callDuration, callStatus interface{}
	if m.Call != nil {
		callType, callDuration, callStatus = m.Call.CallType, m.Call.Duration, m.Call.Status
	}

	start := time.Now()
	err := r.session.Query(`INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toCQL(m.ChatID), m.CreatedAt, toCQL(m.MessageID), toCQL(m.SenderID), string(m.Kind), m.IsGroup,
		ciphertext, iv, wrapped,
		sysAction, sysTarget, sysInitiator,
		callType, callDuration, callStatus, nullable(m.ForwardedFrom),
		toCQLSet(m.Recipients), toCQLSet(m.DeliveredTo), toCQLSet(m.SeenBy), toCQLSet(m.DeletedFor), m.DeletedForAll,
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("insert", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

func (r *MessageRepository) lookup(ctx context.Context, messageID uuid.UUID) (rowKey, error) {
	var key rowKey
	start := time.Now()
	err := r.session.Query(
		`SELECT chat_id, created_at FROM message_index WHERE message_id = ?`,
		toCQL(messageID),
	).WithContext(ctx).Scan(&key.chatID, &key.createdAt)
	metrics.ObserveCassandraQuery("select", "message_index", start, err)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return key, domain.ErrMessageNotFound
		}
		return key, fmt.Errorf("failed to look up message: %w", err)
	}
	return key, nil
}

// GetByID retrieves a specific message
func (r *MessageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	key, err := r.lookup(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return r.get(ctx, key, messageID, 0)
}

// get loads one message row. A zero consistency keeps the session default.
func (r *MessageRepository) get(ctx context.Context, key rowKey, messageID uuid.UUID, cons gocql.Consistency) (*domain.Message, error) {
	q := r.session.Query(`SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		key.chatID, key.createdAt, toCQL(messageID),
	).WithContext(ctx)
	if cons != 0 {
		q = q.Consistency(cons)
	}

	start := time.Now()
	messages, err := scanMessages(q.Iter())
	metrics.ObserveCassandraQuery("select", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if len(messages) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return messages[0], nil
}

// GetByChat returns up to limit messages that follow the cursor in history
// order, newest first. A zero cursor starts from the latest message.
//
// Timestamps only keep milliseconds, so the rest of the cursor's millisecond
// is read first by message_id and older rows fill the remainder.
func (r *MessageRepository) GetByChat(ctx context.Context, chatID uuid.UUID, cursor domain.HistoryCursor, limit int) ([]*domain.Message, error) {
	if cursor.IsZero() {
		return r.page(ctx, `SELECT `+messageColumns+` FROM messages WHERE chat_id = ? LIMIT ?`,
			toCQL(chatID), limit)
	}

	var messages []*domain.Message
	if cursor.MessageID != uuid.Nil {
		same, err := r.page(ctx, `SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? AND created_at = ? AND message_id > ? LIMIT ?`,
			toCQL(chatID), cursor.CreatedAt, toCQL(cursor.MessageID), limit)
		if err != nil {
			return nil, err
		}
		messages = same
	}
	if len(messages) == limit {
		return messages, nil
	}

	older, err := r.page(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND created_at < ? LIMIT ?`,
		toCQL(chatID), cursor.CreatedAt, limit-len(messages))
	if err != nil {
		return nil, err
	}
	return append(messages, older...), nil
}

func (r *MessageRepository) page(ctx context.Context, stmt string, args ...interface{}) ([]*domain.Message, error) {
	start := time.Now()
	messages, err := scanMessages(r.session.Query(stmt, args...).WithContext(ctx).Iter())
	metrics.ObserveCassandraQuery("select", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// GetDeliveryState implements delivery.Store
func (r *MessageRepository) GetDeliveryState(ctx context.Context, messageID uuid.UUID) (*delivery.State, error) {
	m, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return delivery.StateFromMessage(m), nil
}

// AddReceipt implements delivery.Store. Set additions commute, so concurrent
// receipts from several relay instances converge. The write and the read back
// both run at QUORUM so the returned sets include every receipt acknowledged
// before this one.
func (r *MessageRepository) AddReceipt(ctx context.Context, messageID, userID uuid.UUID, status delivery.Status) (*delivery.State, error) {
	key, err := r.lookup(ctx, messageID)
	if err != nil {
		return nil, err
	}

	stmt := `UPDATE messages SET delivered_to = delivered_to + ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`
	if status == delivery.StatusSeen {
		stmt = `UPDATE messages SET delivered_to = delivered_to + ?, seen_by = seen_by + ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`
	}

	user := []gocql.UUID{toCQL(userID)}
	args := []interface{}{user}
	if status == delivery.StatusSeen {
		args = append(args, user)
	}
	args = append(args, key.chatID, key.createdAt, toCQL(messageID))

	start := time.Now()
	err = r.session.Query(stmt, args...).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	metrics.ObserveCassandraQuery("update", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s receipt: %w", status, err)
	}

	m, err := r.get(ctx, key, messageID, gocql.Quorum)
	if err != nil {
		return nil, err
	}
	return delivery.StateFromMessage(m), nil
}

// AddDeletedFor hides a message for one user
func (r *MessageRepository) AddDeletedFor(ctx context.Context, messageID, userID uuid.UUID) error {
	key, err := r.lookup(ctx, messageID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = r.session.Query(
		`UPDATE messages SET deleted_for = deleted_for + ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		[]gocql.UUID{toCQL(userID)}, key.chatID, key.createdAt, toCQL(messageID),
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("update", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete message for user: %w", err)
	}
	return nil
}

// MarkDeletedForAll tombstones a message and drops its envelope
func (r *MessageRepository) MarkDeletedForAll(ctx context.Context, messageID uuid.UUID) error {
	key, err := r.lookup(ctx, messageID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = r.session.Query(
		`UPDATE messages SET deleted_for_all = true, content_ciphertext = null, iv = null, wrapped_keys = null
		WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		key.chatID, key.createdAt, toCQL(messageID),
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("update", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete message for everyone: %w", err)
	}
	return nil
}

// DeleteByChat removes every message of a chat and its index entries
func (r *MessageRepository) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	start := time.Now()
	iter := r.session.Query(`SELECT message_id FROM messages WHERE chat_id = ?`, toCQL(chatID)).WithContext(ctx).Iter()

	var ids []gocql.UUID
	var id gocql.UUID
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	err := iter.Close()
	metrics.ObserveCassandraQuery("select", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to list chat messages: %w", err)
	}

	for _, id := range ids {
		if err := r.session.Query(`DELETE FROM message_index WHERE message_id = ?`, id).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to delete message index: %w", err)
		}
	}

	start = time.Now()
	err = r.session.Query(`DELETE FROM messages WHERE chat_id = ?`, toCQL(chatID)).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("delete", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	return nil
}

func scanMessages(iter *gocql.Iter) ([]*domain.Message, error) {
	var messages []*domain.Message

	for {
		var (
			chatID, messageID, senderID     gocql.UUID
			sysTarget, sysInitiator, fwd    gocql.UUID
			kind, ciphertext, iv, sysAction string
			callType, callStatus            string
			callDuration                    int
			isGroup, deletedForAll          bool
			createdAt                       time.Time
			wrapped                         map[gocql.UUID]string
			recipients, deliveredTo         []gocql.UUID
			seenBy, deletedFor              []gocql.UUID
		)

		if !iter.Scan(
			&chatID, &createdAt, &messageID, &senderID, &kind, &isGroup,
			&ciphertext, &iv, &wrapped,
			&sysAction, &sysTarget, &sysInitiator,
			&callType, &callDuration, &callStatus, &fwd,
			&recipients, &deliveredTo, &seenBy, &deletedFor, &deletedForAll,
		) {
			break
		}

		m := &domain.Message{
			MessageID:     fromCQL(messageID),
			ChatID:        fromCQL(chatID),
			SenderID:      fromCQL(senderID),
			Kind:          domain.MessageKind(kind),
			CreatedAt:     createdAt.UTC(),
			IsGroup:       isGroup,
			Recipients:    fromCQLSet(recipients),
			DeliveredTo:   fromCQLSet(deliveredTo),
			SeenBy:        fromCQLSet(seenBy),
			DeletedFor:    fromCQLSet(deletedFor),
			DeletedForAll: deletedForAll,
		}

		if ciphertext != "" && !deletedForAll {
			m.Envelope = &e2ee.Envelope{
				ContentCiphertext: ciphertext,
				IV:                iv,
				WrappedKeys:       fromCQLMap(wrapped),
			}
		}
		if sysAction != "" {
			m.System = &domain.SystemFields{
				Action:     domain.MembershipAction(sysAction),
				TargetUser: fromCQL(sysTarget),
				Initiator:  fromCQL(sysInitiator),
			}
		}
		if callType != "" {
			m.Call = &domain.CallData{CallType: callType, Duration: callDuration, Status: callStatus}
		}
		if fwd != (gocql.UUID{}) {
			from := fromCQL(fwd)
			m.ForwardedFrom = &from
		}

		messages = append(messages, m)
	}

	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}
