package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/internal/membership"
	"sealedchat-backend/pkg/e2ee"
	apperrors "sealedchat-backend/pkg/errors"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

// MessageRepository stores relayed messages
type MessageRepository interface {
	Save(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
	GetByChat(ctx context.Context, chatID uuid.UUID, cursor domain.HistoryCursor, limit int) ([]*domain.Message, error)
	AddDeletedFor(ctx context.Context, messageID, userID uuid.UUID) error
	MarkDeletedForAll(ctx context.Context, messageID uuid.UUID) error
}

// ConversationRepository is the subset of the chat store used for messaging
type ConversationRepository interface {
	GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error)
	Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error
}

// DeliveryTracker applies delivered and seen acknowledgements
type DeliveryTracker interface {
	MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID) (*domain.StatusUpdate, error)
	MarkSeen(ctx context.Context, messageIDs []uuid.UUID, recipientID uuid.UUID) ([]domain.StatusUpdate, error)
}

// EventPublisher fans events out to relay instances
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// Config holds message limits
type Config struct {
	DeleteForAllWindow time.Duration
	HistoryPageSize    int
	HistoryMaxPageSize int
	MaxSeenBatch       int
}

// Service handles relay message logic. It never sees plaintext: envelopes
// are validated for encoding and addressing only.
type Service struct {
	messageRepo      MessageRepository
	conversationRepo ConversationRepository
	tracker          DeliveryTracker
	publisher        EventPublisher
	cfg              Config
	now              func() time.Time
}

// NewService creates a new chat service
func NewService(
	messageRepo MessageRepository,
	conversationRepo ConversationRepository,
	tracker DeliveryTracker,
	publisher EventPublisher,
	cfg Config,
) *Service {
	if cfg.DeleteForAllWindow <= 0 {
		cfg.DeleteForAllWindow = time.Hour
	}
	if cfg.HistoryMaxPageSize <= 0 {
		cfg.HistoryMaxPageSize = 100
	}
	if cfg.HistoryPageSize <= 0 || cfg.HistoryPageSize > cfg.HistoryMaxPageSize {
		cfg.HistoryPageSize = cfg.HistoryMaxPageSize
	}
	if cfg.MaxSeenBatch <= 0 {
		cfg.MaxSeenBatch = 100
	}
	return &Service{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		tracker:          tracker,
		publisher:        publisher,
		cfg:              cfg,
		now:              domain.Now,
	}
}

// SendMessageInput contains message data. MessageID is the client-chosen
// id used to deduplicate retries; a nil id is replaced by a fresh one.
type SendMessageInput struct {
	MessageID uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	Kind      domain.MessageKind
	Envelope  *e2ee.Envelope
}

// SendMessageOutput contains the stored message
type SendMessageOutput struct {
	Message   *domain.Message
	Duplicate bool
}

// SendMessage stores an encrypted message and relays it to the chat
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*SendMessageOutput, error) {
	return s.send(ctx, input, nil)
}

func (s *Service) send(ctx context.Context, input *SendMessageInput, forwardedFrom *uuid.UUID) (*SendMessageOutput, error) {
	if !input.Kind.IsUserAuthored() {
		return nil, apperrors.ValidationError("Kind must be one of text, image, file, audio")
	}
	if err := input.Envelope.Validate(); err != nil {
		return nil, apperrors.MalformedEnvelopeError(err)
	}

	chat, err := s.getChat(ctx, input.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(input.SenderID) {
		return nil, apperrors.NotParticipantError()
	}
	if err := checkRecipients(chat, input.Envelope); err != nil {
		return nil, err
	}

	messageID := input.MessageID
	if messageID == uuid.Nil {
		messageID = uuid.New()
	}

	msg := &domain.Message{
		MessageID:     messageID,
		ChatID:        chat.ChatID,
		SenderID:      input.SenderID,
		Kind:          input.Kind,
		CreatedAt:     s.now(),
		Envelope:      input.Envelope,
		ForwardedFrom: forwardedFrom,
		Recipients:    chat.OtherParticipants(input.SenderID),
		IsGroup:       chat.IsGroup,
	}

	if err := s.messageRepo.Save(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return s.duplicate(ctx, msg)
		}
		return nil, apperrors.DatabaseError(err)
	}

	metrics.ChatMessagesSentTotal.WithLabelValues(string(msg.Kind)).Inc()
	metrics.ChatEnvelopeRecipients.Observe(float64(len(input.Envelope.WrappedKeys)))

	s.touch(ctx, msg)
	s.publish(ctx, domain.EventReceiveMessage, chat.ChatID, chat.Participants, msg)

	return &SendMessageOutput{Message: msg}, nil
}

// duplicate resolves a retried send. The stored message is returned as is
// and nothing is published again.
func (s *Service) duplicate(ctx context.Context, msg *domain.Message) (*SendMessageOutput, error) {
	existing, err := s.messageRepo.GetByID(ctx, msg.MessageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		// claimed by a send that has not finished writing
		return nil, apperrors.ConflictError("Message is still being stored, retry")
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if existing.SenderID != msg.SenderID || existing.ChatID != msg.ChatID {
		return nil, apperrors.ConflictError("Message id is already in use")
	}

	metrics.ChatMessagesDuplicateTotal.Inc()
	logger.Debug("Duplicate send ignored", zap.String("message_id", msg.MessageID.String()))
	return &SendMessageOutput{Message: existing, Duplicate: true}, nil
}

// checkRecipients requires a wrapped key for every current participant,
// the sender included, and for nobody else.
func checkRecipients(chat *domain.Chat, env *e2ee.Envelope) error {
	var missing, unexpected []uuid.UUID
	for _, p := range chat.Participants {
		if !env.HasRecipient(p) {
			missing = append(missing, p)
		}
	}
	for id := range env.WrappedKeys {
		if !chat.IsParticipant(id) {
			unexpected = append(unexpected, id)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	return apperrors.RecipientMismatchError("Envelope recipients must match the chat participants").
		WithDetails(map[string][]uuid.UUID{"missing": missing, "unexpected": unexpected})
}

// GetHistoryInput contains history query parameters. Before is the cursor
// of the last message already received; zero means latest.
type GetHistoryInput struct {
	ChatID uuid.UUID
	UserID uuid.UUID
	Before domain.HistoryCursor
	Limit  int
}

// GetHistoryOutput contains a page of history, newest first
type GetHistoryOutput struct {
	Messages   []*domain.Message     `json:"messages"`
	NextCursor *domain.HistoryCursor `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

// GetHistory returns the messages userID may see. Messages sent while the
// user was not a member are excluded, messages they deleted are hidden and
// messages deleted for everyone come back as tombstones.
func (s *Service) GetHistory(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
	chat, err := s.getChat(ctx, input.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(input.UserID) && !chat.WasMember(input.UserID) {
		return nil, apperrors.NotParticipantError()
	}

	limit := input.Limit
	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	if limit > s.cfg.HistoryMaxPageSize {
		limit = s.cfg.HistoryMaxPageSize
	}

	raw, err := s.messageRepo.GetByChat(ctx, chat.ChatID, input.Before, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	filter := membership.ForChat(chat, input.UserID, s.now())
	out := &GetHistoryOutput{Messages: make([]*domain.Message, 0, len(raw))}
	for _, m := range filter.Apply(raw) {
		if m.IsDeletedFor(input.UserID) {
			continue
		}
		if m.DeletedForAll {
			m = m.Tombstone()
		}
		out.Messages = append(out.Messages, m)
	}

	if len(raw) == limit {
		last := raw[len(raw)-1]
		out.NextCursor = &domain.HistoryCursor{CreatedAt: last.CreatedAt, MessageID: last.MessageID}
		out.HasMore = true
	}
	return out, nil
}

// MarkDelivered records that userID received messageID
func (s *Service) MarkDelivered(ctx context.Context, messageID, userID uuid.UUID) (*domain.StatusUpdate, error) {
	update, err := s.tracker.MarkDelivered(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, apperrors.NotFoundError("Message")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return update, nil
}

// MarkSeen records that userID viewed the messages. Acks are best effort:
// ids that fail are logged and skipped.
func (s *Service) MarkSeen(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) ([]domain.StatusUpdate, error) {
	if len(messageIDs) == 0 {
		return nil, apperrors.ValidationError("message_ids is required")
	}
	if len(messageIDs) > s.cfg.MaxSeenBatch {
		return nil, apperrors.ValidationError("Too many message ids")
	}

	updates, err := s.tracker.MarkSeen(ctx, messageIDs, userID)
	if err != nil {
		logger.Warn("Some seen acknowledgements failed",
			zap.String("user_id", userID.String()),
			zap.Int("batch", len(messageIDs)),
			zap.Error(err))
	}
	return updates, nil
}

// messageDeleted is the payload of EventMessageDeleted
type messageDeleted struct {
	MessageID uuid.UUID `json:"message_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	ForAll    bool      `json:"for_all"`
}

// DeleteForMe hides a message for userID only
func (s *Service) DeleteForMe(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.visibleMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}

	if err := s.messageRepo.AddDeletedFor(ctx, msg.MessageID, userID); err != nil {
		return apperrors.DatabaseError(err)
	}

	s.publish(ctx, domain.EventMessageDeleted, msg.ChatID, []uuid.UUID{userID},
		messageDeleted{MessageID: msg.MessageID, ChatID: msg.ChatID})
	return nil
}

// DeleteForAll irreversibly removes a message's content for everyone. Only
// the sender may do so, within the configured window.
func (s *Service) DeleteForAll(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID || !msg.Kind.IsUserAuthored() {
		return apperrors.ForbiddenError("Only the sender can delete a message for everyone")
	}
	if msg.DeletedForAll {
		return nil
	}
	if s.now().Sub(msg.CreatedAt) > s.cfg.DeleteForAllWindow {
		return apperrors.WindowExpiredError()
	}

	chat, err := s.getChat(ctx, msg.ChatID)
	if err != nil {
		return err
	}

	if err := s.messageRepo.MarkDeletedForAll(ctx, msg.MessageID); err != nil {
		return apperrors.DatabaseError(err)
	}

	logger.Info("Message deleted for everyone", zap.String("message_id", msg.MessageID.String()))
	s.publish(ctx, domain.EventMessageDeleted, msg.ChatID, chat.Participants,
		messageDeleted{MessageID: msg.MessageID, ChatID: msg.ChatID, ForAll: true})
	return nil
}

// ForwardInput contains a forward request. The client re-encrypts the
// content for the target chat; the relay only links the source.
type ForwardInput struct {
	SourceMessageID uuid.UUID
	MessageID       uuid.UUID
	TargetChatID    uuid.UUID
	UserID          uuid.UUID
	Envelope        *e2ee.Envelope
}

// Forward sends a re-encrypted copy of a message the user can see into
// another chat.
func (s *Service) Forward(ctx context.Context, input *ForwardInput) (*SendMessageOutput, error) {
	source, err := s.visibleMessage(ctx, input.SourceMessageID, input.UserID)
	if err != nil {
		return nil, err
	}
	if source.DeletedForAll || !source.Kind.IsUserAuthored() {
		return nil, apperrors.ValidationError("Message cannot be forwarded")
	}

	return s.send(ctx, &SendMessageInput{
		MessageID: input.MessageID,
		ChatID:    input.TargetChatID,
		SenderID:  input.UserID,
		Kind:      source.Kind,
		Envelope:  input.Envelope,
	}, &source.MessageID)
}

// RecordCallInput contains a finished call's log entry
type RecordCallInput struct {
	ChatID   uuid.UUID
	CallerID uuid.UUID
	CallType string
	Duration int
	Status   string
}

var (
	callTypes    = map[string]bool{"voice": true, "video": true}
	callStatuses = map[string]bool{"missed": true, "declined": true, "completed": true, "no-answer": true}
)

// RecordCall stores an unencrypted call log message in the chat
func (s *Service) RecordCall(ctx context.Context, input *RecordCallInput) (*domain.Message, error) {
	if !callTypes[input.CallType] {
		return nil, apperrors.ValidationError("call_type must be voice or video")
	}
	if !callStatuses[input.Status] {
		return nil, apperrors.ValidationError("Invalid call status")
	}
	if input.Duration < 0 {
		return nil, apperrors.ValidationError("duration cannot be negative")
	}

	chat, err := s.getChat(ctx, input.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(input.CallerID) {
		return nil, apperrors.NotParticipantError()
	}

	msg := &domain.Message{
		MessageID:  uuid.New(),
		ChatID:     chat.ChatID,
		SenderID:   input.CallerID,
		Kind:       domain.KindCall,
		CreatedAt:  s.now(),
		Call:       &domain.CallData{CallType: input.CallType, Duration: input.Duration, Status: input.Status},
		Recipients: chat.OtherParticipants(input.CallerID),
		IsGroup:    chat.IsGroup,
	}
	if err := s.messageRepo.Save(ctx, msg); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	metrics.ChatMessagesSentTotal.WithLabelValues(string(msg.Kind)).Inc()
	s.touch(ctx, msg)
	s.publish(ctx, domain.EventReceiveMessage, chat.ChatID, chat.Participants, msg)
	return msg, nil
}

// visibleMessage loads a message the user may currently see in history
func (s *Service) visibleMessage(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	chat, err := s.getChat(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) && !chat.WasMember(userID) {
		return nil, apperrors.NotParticipantError()
	}
	if msg.IsDeletedFor(userID) || !membership.ForChat(chat, userID, s.now()).Visible(msg.CreatedAt) {
		return nil, apperrors.NotFoundError("Message")
	}
	return msg, nil
}

func (s *Service) getMessage(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, apperrors.NotFoundError("Message")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return msg, nil
}

func (s *Service) getChat(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.conversationRepo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrChatNotFound) {
			return nil, apperrors.NotFoundError("Chat")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return chat, nil
}

func (s *Service) touch(ctx context.Context, msg *domain.Message) {
	if err := s.conversationRepo.Touch(ctx, msg.ChatID, msg.CreatedAt); err != nil {
		logger.Warn("Failed to touch chat", zap.String("chat_id", msg.ChatID.String()), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType domain.EventType, chatID uuid.UUID, recipients []uuid.UUID, payload interface{}) {
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
