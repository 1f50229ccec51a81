package client

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

// RenderState is how a message is shown
type RenderState string

const (
	StatePlain         RenderState = "plain"
	StateSystem        RenderState = "system"
	StateCall          RenderState = "call"
	StateDeleted       RenderState = "deleted"
	StateNotAddressed  RenderState = "not_addressed"
	StateCannotDecrypt RenderState = "cannot_decrypt"
	StateMalformed     RenderState = "malformed"
)

// Placeholder texts for messages that cannot be shown as content
const (
	TextDeleted       = "This message was deleted"
	TextNotAddressed  = "This message was not encrypted for you"
	TextCannotDecrypt = "Unable to decrypt this message"
)

// Rendered is a message ready for display. Malformed messages show the
// same text as CannotDecrypt; the state and Failure keep them apart.
type Rendered struct {
	MessageID uuid.UUID      `json:"message_id"`
	State     RenderState    `json:"state"`
	Text      string         `json:"text"`
	Failure   e2ee.ErrorKind `json:"failure,omitempty"`
}

// Render turns msg into display text. It never fails; every problem maps
// to a placeholder state.
func (s *Session) Render(msg *domain.Message) Rendered {
	if msg == nil {
		return Rendered{State: StateMalformed, Text: TextCannotDecrypt}
	}
	r := s.render(msg)
	r.MessageID = msg.MessageID
	return r
}

func (s *Session) render(msg *domain.Message) Rendered {
	if msg.DeletedForAll {
		return Rendered{State: StateDeleted, Text: TextDeleted}
	}

	switch msg.Kind {
	case domain.KindSystem:
		return renderSystem(msg)
	case domain.KindCall:
		return renderCall(msg)
	}

	if !msg.Kind.IsUserAuthored() || msg.Envelope == nil {
		logger.Warn("Unrenderable message",
			zap.String("message_id", msg.MessageID.String()),
			zap.String("kind", string(msg.Kind)))
		return Rendered{State: StateMalformed, Text: TextCannotDecrypt, Failure: e2ee.KindMalformedEncoding}
	}

	if !msg.Envelope.HasRecipient(s.userID) {
		return Rendered{State: StateNotAddressed, Text: TextNotAddressed, Failure: e2ee.KindNoKeyForRecipient}
	}

	priv := s.privateKey()
	if priv == nil {
		return Rendered{State: StateCannotDecrypt, Text: TextCannotDecrypt, Failure: e2ee.KindUnwrapFailed}
	}

	plaintext, err := e2ee.OpenAsRecipient(msg.Envelope, s.userID, priv)
	if err != nil {
		kind := e2ee.Kind(err)
		metrics.ChatCryptoOpenFailuresTotal.WithLabelValues(string(kind)).Inc()

		if kind == e2ee.KindMalformedEncoding {
			logger.Warn("Malformed envelope",
				zap.String("message_id", msg.MessageID.String()),
				zap.Error(err))
			return Rendered{State: StateMalformed, Text: TextCannotDecrypt, Failure: kind}
		}

		fields := []zap.Field{
			zap.String("message_id", msg.MessageID.String()),
			zap.String("kind", string(kind)),
		}
		if kind == e2ee.KindNoKeyForRecipient {
			logger.Debug("Envelope not addressed to this device", fields...)
		} else {
			logger.Warn("Failed to open envelope", append(fields, zap.Error(err))...)
		}
		return Rendered{State: StateCannotDecrypt, Text: TextCannotDecrypt, Failure: kind}
	}

	return Rendered{State: StatePlain, Text: string(plaintext)}
}

// RenderAll renders a list in order. One bad message never hides the rest.
func (s *Session) RenderAll(msgs []*domain.Message) []Rendered {
	out := make([]Rendered, len(msgs))
	for i, msg := range msgs {
		out[i] = s.Render(msg)
	}
	return out
}

func renderSystem(msg *domain.Message) Rendered {
	sys := msg.System
	if sys == nil {
		return Rendered{State: StateMalformed, Text: TextCannotDecrypt}
	}

	var text string
	switch sys.Action {
	case domain.ActionAdd:
		text = fmt.Sprintf("%s added %s", shortID(sys.Initiator.String()), shortID(sys.TargetUser.String()))
	case domain.ActionRemove:
		text = fmt.Sprintf("%s removed %s", shortID(sys.Initiator.String()), shortID(sys.TargetUser.String()))
	case domain.ActionLeave:
		text = fmt.Sprintf("%s left the group", shortID(sys.TargetUser.String()))
	default:
		return Rendered{State: StateMalformed, Text: TextCannotDecrypt}
	}
	return Rendered{State: StateSystem, Text: text}
}

func renderCall(msg *domain.Message) Rendered {
	call := msg.Call
	if call == nil {
		return Rendered{State: StateMalformed, Text: TextCannotDecrypt}
	}

	label := "Voice call"
	if call.CallType == "video" {
		label = "Video call"
	}

	var text string
	switch call.Status {
	case "missed":
		text = "Missed " + lowerFirst(label)
	case "declined":
		text = label + " declined"
	case "no-answer":
		text = label + ", no answer"
	default:
		text = fmt.Sprintf("%s (%s)", label, time.Duration(call.Duration)*time.Second)
	}
	return Rendered{State: StateCall, Text: text}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]+('a'-'A')) + s[1:]
}
