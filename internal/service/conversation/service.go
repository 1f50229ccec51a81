package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/internal/membership"
	"sealedchat-backend/internal/repository/cockroach"
	apperrors "sealedchat-backend/pkg/errors"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/sanitize"
)

// MaxGroupNameLength bounds group names in runes
const MaxGroupNameLength = 100

// ConversationRepository stores chats and their membership
type ConversationRepository interface {
	CreatePrivate(ctx context.Context, chat *domain.Chat) (*domain.Chat, bool, error)
	CreateGroup(ctx context.Context, chat *domain.Chat) error
	GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error)
	UpdateMembership(ctx context.Context, chatID uuid.UUID, fn cockroach.MembershipFunc) (*domain.Chat, error)
	Delete(ctx context.Context, chatID uuid.UUID) error
}

// MessageRepository is the subset of the message store used for chats
type MessageRepository interface {
	Save(ctx context.Context, m *domain.Message) error
	GetByChat(ctx context.Context, chatID uuid.UUID, cursor domain.HistoryCursor, limit int) ([]*domain.Message, error)
	DeleteByChat(ctx context.Context, chatID uuid.UUID) error
}

// EventPublisher fans events out to relay instances
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// Config holds conversation limits
type Config struct {
	MaxGroupParticipants int
	UnreadScanLimit      int
}

// Service handles conversation business logic
type Service struct {
	conversationRepo ConversationRepository
	messageRepo      MessageRepository
	publisher        EventPublisher
	cfg              Config
	now              func() time.Time
}

// NewService creates a new conversation service
func NewService(
	conversationRepo ConversationRepository,
	messageRepo MessageRepository,
	publisher EventPublisher,
	cfg Config,
) *Service {
	if cfg.MaxGroupParticipants <= 0 || cfg.MaxGroupParticipants > domain.MaxGroupParticipants {
		cfg.MaxGroupParticipants = domain.MaxGroupParticipants
	}
	if cfg.UnreadScanLimit <= 0 {
		cfg.UnreadScanLimit = 500
	}
	return &Service{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		publisher:        publisher,
		cfg:              cfg,
		now:              domain.Now,
	}
}

// CreatePrivate returns the private chat between userID and peerID,
// creating it on first use.
func (s *Service) CreatePrivate(ctx context.Context, userID, peerID uuid.UUID) (*domain.Chat, error) {
	if peerID == uuid.Nil || peerID == userID {
		return nil, apperrors.ValidationError("A private chat needs exactly two distinct participants")
	}

	now := s.now()
	chat, created, err := s.conversationRepo.CreatePrivate(ctx, &domain.Chat{
		ChatID:       uuid.New(),
		Participants: []uuid.UUID{userID, peerID},
		CreatedBy:    userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if created {
		s.publish(ctx, domain.EventNewChat, chat.ChatID, chat.Participants, chat)
	}
	return chat, nil
}

// CreateGroupInput contains group creation data
type CreateGroupInput struct {
	CreatorID      uuid.UUID
	Name           string
	ParticipantIDs []uuid.UUID
}

// CreateGroup creates a group administered by its creator. Participants are
// deduplicated in order with the creator first.
func (s *Service) CreateGroup(ctx context.Context, input *CreateGroupInput) (*domain.Chat, error) {
	name := sanitize.DisplayName(input.Name)
	if name == "" {
		return nil, apperrors.ValidationError("Group name is required")
	}
	if !sanitize.ValidateStringLength(name, 1, MaxGroupNameLength) {
		return nil, apperrors.ValidationError(fmt.Sprintf("Group name must be at most %d characters", MaxGroupNameLength))
	}

	participants := domain.UnionIDs([]uuid.UUID{input.CreatorID}, input.ParticipantIDs...)
	for _, p := range participants {
		if p == uuid.Nil {
			return nil, apperrors.ValidationError("Invalid participant id")
		}
	}
	if len(participants) < 3 {
		return nil, apperrors.ValidationError("A group needs at least two other participants")
	}
	if len(participants) > s.cfg.MaxGroupParticipants {
		return nil, apperrors.GroupFullError(s.cfg.MaxGroupParticipants)
	}

	now := s.now()
	chat := &domain.Chat{
		ChatID:       uuid.New(),
		IsGroup:      true,
		Name:         &name,
		Participants: participants,
		Admins:       []uuid.UUID{input.CreatorID},
		CreatedBy:    input.CreatorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.conversationRepo.CreateGroup(ctx, chat); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	logger.Info("Group created",
		zap.String("chat_id", chat.ChatID.String()),
		zap.Int("participants", len(participants)))

	s.publish(ctx, domain.EventNewChat, chat.ChatID, chat.Participants, chat)
	return chat, nil
}

// Get returns a chat to a current or former participant
func (s *Service) Get(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) && !chat.WasMember(userID) {
		return nil, apperrors.NotParticipantError()
	}
	return chat, nil
}

// ListForUser lists the user's chats, including groups they were removed
// from, with the latest visible message and the unread count. Messages in
// the user's membership gaps are excluded from both.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ChatSummary, error) {
	chats, err := s.conversationRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	now := s.now()
	summaries := make([]*domain.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		msgs, err := s.messageRepo.GetByChat(ctx, chat.ChatID, domain.HistoryCursor{}, s.cfg.UnreadScanLimit)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}

		filter := membership.ForChat(chat, userID, now)
		summary := &domain.ChatSummary{
			Chat:        chat,
			UnreadCount:       filter.CountUnread(msgs),
			UnreadCountCapped: len(msgs) == s.cfg.UnreadScanLimit,
			IsMember:          chat.IsParticipant(userID),
		}
		for _, m := range filter.Apply(msgs) {
			if m.IsDeletedFor(userID) {
				continue
			}
			if m.DeletedForAll {
				m = m.Tombstone()
			}
			summary.LatestMessage = m
			break
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// AddParticipant adds targetID to a group. Only admins may add.
func (s *Service) AddParticipant(ctx context.Context, chatID, actorID, targetID uuid.UUID) (*domain.Chat, error) {
	if targetID == uuid.Nil {
		return nil, apperrors.ValidationError("Invalid participant id")
	}

	chat, err := s.conversationRepo.UpdateMembership(ctx, chatID, func(chat *domain.Chat) (*domain.MembershipEvent, error) {
		if err := requireGroupAdmin(chat, actorID); err != nil {
			return nil, err
		}
		if chat.IsParticipant(targetID) {
			return nil, apperrors.ConflictError("User is already a participant")
		}
		if len(chat.Participants) >= s.cfg.MaxGroupParticipants {
			return nil, apperrors.GroupFullError(s.cfg.MaxGroupParticipants)
		}

		chat.Participants = append(chat.Participants, targetID)
		return &domain.MembershipEvent{Action: domain.ActionAdd, TargetUser: targetID, Initiator: actorID, At: s.now()}, nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.announce(ctx, chat)
	return chat, nil
}

// RemoveParticipant removes targetID from a group. Only admins may remove,
// and never themselves.
func (s *Service) RemoveParticipant(ctx context.Context, chatID, actorID, targetID uuid.UUID) (*domain.Chat, error) {
	if actorID == targetID {
		return nil, apperrors.ValidationError("Use leave to exit a group")
	}

	chat, err := s.conversationRepo.UpdateMembership(ctx, chatID, func(chat *domain.Chat) (*domain.MembershipEvent, error) {
		if err := requireGroupAdmin(chat, actorID); err != nil {
			return nil, err
		}
		if !chat.IsParticipant(targetID) {
			return nil, apperrors.NotFoundError("Participant")
		}

		chat.Participants = removeID(chat.Participants, targetID)
		chat.Admins = removeID(chat.Admins, targetID)
		return &domain.MembershipEvent{Action: domain.ActionRemove, TargetUser: targetID, Initiator: actorID, At: s.now()}, nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.publish(ctx, domain.EventGroupRemoval, chat.ChatID, []uuid.UUID{targetID}, chat)
	s.announce(ctx, chat)
	return chat, nil
}

// Leave removes userID from a group. When the last admin leaves, the first
// remaining participant becomes admin; when the last participant leaves, the
// group is deleted.
func (s *Service) Leave(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.conversationRepo.UpdateMembership(ctx, chatID, func(chat *domain.Chat) (*domain.MembershipEvent, error) {
		if !chat.IsGroup {
			return nil, apperrors.ValidationError("Private chats cannot be left")
		}
		if !chat.IsParticipant(userID) {
			return nil, apperrors.NotParticipantError()
		}

		chat.Participants = removeID(chat.Participants, userID)
		chat.Admins = removeID(chat.Admins, userID)
		if len(chat.Admins) == 0 && len(chat.Participants) > 0 {
			chat.Admins = []uuid.UUID{chat.Participants[0]}
		}
		return &domain.MembershipEvent{Action: domain.ActionLeave, TargetUser: userID, Initiator: userID, At: s.now()}, nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	if len(chat.Participants) == 0 {
		logger.Info("Group deleted after last participant left", zap.String("chat_id", chatID.String()))
		s.purgeMessages(ctx, chatID)
		s.publish(ctx, domain.EventChatDeleted, chatID, []uuid.UUID{userID}, map[string]uuid.UUID{"chat_id": chatID})
		return chat, nil
	}

	s.announce(ctx, chat)
	return chat, nil
}

// Delete removes a chat and its messages. Any participant may delete a
// private chat; groups can only be deleted by an admin.
func (s *Service) Delete(ctx context.Context, chatID, userID uuid.UUID) error {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return apperrors.NotParticipantError()
	}
	if chat.IsGroup && !chat.IsAdmin(userID) {
		return apperrors.NotAdminError()
	}

	if err := s.conversationRepo.Delete(ctx, chatID); err != nil {
		return mapRepoError(err)
	}
	s.purgeMessages(ctx, chatID)

	s.publish(ctx, domain.EventChatDeleted, chatID, chat.Participants, map[string]uuid.UUID{"chat_id": chatID})
	return nil
}

// announce stores the system message for the chat's latest membership event
// and tells the current participants about it.
func (s *Service) announce(ctx context.Context, chat *domain.Chat) {
	if len(chat.MembershipEvents) == 0 {
		return
	}
	ev := chat.MembershipEvents[len(chat.MembershipEvents)-1]

	msg := &domain.Message{
		MessageID: uuid.New(),
		ChatID:    chat.ChatID,
		SenderID:  ev.Initiator,
		Kind:      domain.KindSystem,
		CreatedAt: ev.At,
		System: &domain.SystemFields{
			Action:     ev.Action,
			TargetUser: ev.TargetUser,
			Initiator:  ev.Initiator,
		},
		Recipients: chat.OtherParticipants(ev.Initiator),
		IsGroup:    true,
	}
	if err := s.messageRepo.Save(ctx, msg); err != nil {
		logger.Error("Failed to store membership system message",
			zap.String("chat_id", chat.ChatID.String()),
			zap.String("action", string(ev.Action)),
			zap.Error(err))
	} else {
		s.publish(ctx, domain.EventReceiveMessage, chat.ChatID, chat.Participants, msg)
	}

	s.publish(ctx, domain.EventGroupUpdated, chat.ChatID, chat.Participants, chat)
}

func (s *Service) purgeMessages(ctx context.Context, chatID uuid.UUID) {
	if err := s.messageRepo.DeleteByChat(ctx, chatID); err != nil {
		logger.Error("Failed to delete chat messages", zap.String("chat_id", chatID.String()), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType domain.EventType, chatID uuid.UUID, recipients []uuid.UUID, payload interface{}) {
	if len(recipients) == 0 {
		return
	}
	event, err := domain.NewEvent(eventType, chatID, recipients, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		logger.Warn("Failed to publish chat event",
			zap.String("type", string(eventType)),
			zap.String("chat_id", chatID.String()),
			zap.Error(err))
	}
}

func (s *Service) getChat(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.conversationRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return chat, nil
}

func requireGroupAdmin(chat *domain.Chat, userID uuid.UUID) error {
	if !chat.IsGroup {
		return apperrors.ValidationError("Private chats have fixed participants")
	}
	if !chat.IsParticipant(userID) {
		return apperrors.NotParticipantError()
	}
	if !chat.IsAdmin(userID) {
		return apperrors.NotAdminError()
	}
	return nil
}

func mapRepoError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	if errors.Is(err, domain.ErrChatNotFound) {
		return apperrors.NotFoundError("Chat")
	}
	return apperrors.DatabaseError(err)
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
