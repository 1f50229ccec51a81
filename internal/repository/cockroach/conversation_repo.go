package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealedchat-backend/internal/domain"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MembershipFunc mutates a locked chat and returns the event to append.
// Returning an error aborts the transaction.
type MembershipFunc func(chat *domain.Chat) (*domain.MembershipEvent, error)

// ConversationRepository stores chats, participants and membership logs
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// PrivateKey is the unique key of the private chat between a and b
func PrivateKey(a, b uuid.UUID) string {
	if b.String() < a.String() {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

// CreatePrivate returns the private chat between the two participants of
// chat, creating it from chat if it does not exist yet.
func (r *ConversationRepository) CreatePrivate(ctx context.Context, chat *domain.Chat) (*domain.Chat, bool, error) {
	if len(chat.Participants) != 2 {
		return nil, false, fmt.Errorf("private chat needs exactly two participants")
	}
	key := PrivateKey(chat.Participants[0], chat.Participants[1])

	created := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO chats (chat_id, is_group, name, private_key, created_by, created_at, updated_at)
			VALUES ($1, false, NULL, $2, $3, $4, $4)
			ON CONFLICT (private_key) DO NOTHING
		`, chat.ChatID, key, chat.CreatedBy, chat.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true
		return insertParticipants(ctx, tx, chat)
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		return chat, true, nil
	}

	var chatID uuid.UUID
	if err := r.pool.QueryRow(ctx, `SELECT chat_id FROM chats WHERE private_key = $1`, key).Scan(&chatID); err != nil {
		return nil, false, fmt.Errorf("failed to get private chat: %w", err)
	}
	existing, err := r.GetByID(ctx, chatID)
	return existing, false, err
}

// CreateGroup inserts a group chat with its participants and admins
func (r *ConversationRepository) CreateGroup(ctx context.Context, chat *domain.Chat) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO chats (chat_id, is_group, name, created_by, created_at, updated_at)
			VALUES ($1, true, $2, $3, $4, $4)
		`, chat.ChatID, chat.Name, chat.CreatedBy, chat.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		return insertParticipants(ctx, tx, chat)
	})
}

// GetByID retrieves a chat with its participants, admins and membership log
func (r *ConversationRepository) GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	return getChat(ctx, r.pool, chatID, false)
}

// ListForUser returns the chats userID participates in or was removed from,
// most recently updated first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.chat_id FROM chats c
		WHERE c.chat_id IN (
			SELECT chat_id FROM chat_participants WHERE user_id = $1
			UNION
			SELECT chat_id FROM membership_events WHERE target_user = $1
		)
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat ids: %w", err)
	}

	chats := make([]*domain.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := r.GetByID(ctx, id)
		if errors.Is(err, domain.ErrChatNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// UpdateMembership locks the chat, lets fn mutate it, and persists the new
// participant list together with the returned event in one transaction. A
// chat left without participants is deleted.
func (r *ConversationRepository) UpdateMembership(ctx context.Context, chatID uuid.UUID, fn MembershipFunc) (*domain.Chat, error) {
	var result *domain.Chat

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		chat, err := getChat(ctx, tx, chatID, true)
		if err != nil {
			return err
		}

		ev, err := fn(chat)
		if err != nil {
			return err
		}
		result = chat

		if len(chat.Participants) == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE chat_id = $1`, chatID); err != nil {
				return fmt.Errorf("failed to delete empty chat: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM chat_participants WHERE chat_id = $1`, chatID); err != nil {
			return fmt.Errorf("failed to reset participants: %w", err)
		}
		if err := insertParticipants(ctx, tx, chat); err != nil {
			return err
		}

		if ev != nil {
			_, err := tx.Exec(ctx, `
				INSERT INTO membership_events (chat_id, seq, action, target_user, initiator, at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, chatID, len(chat.MembershipEvents), string(ev.Action), ev.TargetUser, ev.Initiator, ev.At)
			if err != nil {
				return fmt.Errorf("failed to append membership event: %w", err)
			}
			chat.MembershipEvents = append(chat.MembershipEvents, *ev)
		}

		chat.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = $2 WHERE chat_id = $1`, chatID, chat.UpdatedAt); err != nil {
			return fmt.Errorf("failed to touch chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Touch bumps the chat's updated_at so listings order by activity
func (r *ConversationRepository) Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE chats SET updated_at = $2 WHERE chat_id = $1 AND updated_at < $2`, chatID, at); err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	return nil
}

// Delete removes a chat; participants and events cascade
func (r *ConversationRepository) Delete(ctx context.Context, chatID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chats WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

func insertParticipants(ctx context.Context, q querier, chat *domain.Chat) error {
	for i, userID := range chat.Participants {
		_, err := q.Exec(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, position, is_admin)
			VALUES ($1, $2, $3, $4)
		`, chat.ChatID, userID, i, chat.IsAdmin(userID))
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}
	return nil
}

func getChat(ctx context.Context, q querier, chatID uuid.UUID, forUpdate bool) (*domain.Chat, error) {
	query := `SELECT chat_id, is_group, name, created_by, created_at, updated_at FROM chats WHERE chat_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	chat := &domain.Chat{}
	err := q.QueryRow(ctx, query, chatID).Scan(
		&chat.ChatID,
		&chat.IsGroup,
		&chat.Name,
		&chat.CreatedBy,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT user_id, is_admin FROM chat_participants
		WHERE chat_id = $1 ORDER BY position
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	var (
		userID  uuid.UUID
		isAdmin bool
	)
	_, err = pgx.ForEachRow(rows, []any{&userID, &isAdmin}, func() error {
		chat.Participants = append(chat.Participants, userID)
		if isAdmin {
			chat.Admins = append(chat.Admins, userID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan participants: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT action, target_user, initiator, at FROM membership_events
		WHERE chat_id = $1 ORDER BY seq
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership events: %w", err)
	}
	chat.MembershipEvents, err = pgx.CollectRows(rows, pgx.RowToStructByPos[domain.MembershipEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership events: %w", err)
	}

	return chat, nil
}
