// Package membership decides which group messages a user may see given the
// group's membership log.
//
// A user removed from a group (or who left it) must not see messages sent
// while they were not a member. Only the latest departure counts: it opens
// a gap that the first add strictly after it closes. Gaps are half-open,
// [departure, add). A gap that is never closed hides everything from the
// departure on. Earlier remove/add cycles are ignored.
package membership

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/logger"
	"sealedchat-backend/pkg/metrics"
)

// Decision is the visibility of one message for one user
type Decision struct {
	Visible bool
	// Inconsistent is set when the message is shown only because the
	// membership log could not be interpreted.
	Inconsistent bool
}

type gap struct {
	from    time.Time
	until   time.Time
	open    bool
	suspect bool
}

func (g gap) contains(at time.Time) bool {
	if at.Before(g.from) {
		return false
	}
	return g.open || at.Before(g.until)
}

// Filter holds the exclusion window of one user in one chat
type Filter struct {
	user   uuid.UUID
	window *gap
}

// NewFilter builds the filter for user from a chat's membership log. Only
// events strictly before now are considered; unsorted input is sorted
// first. isParticipant is the user's current membership.
//
// A current participant whose latest departure was never followed by an add
// contradicts the log. That fails open: messages after the departure stay
// visible with Inconsistent set.
func NewFilter(events []domain.MembershipEvent, user uuid.UUID, isParticipant bool, now time.Time) *Filter {
	f := &Filter{user: user}

	var mine []domain.MembershipEvent
	for _, ev := range events {
		if ev.TargetUser == user && ev.At.Before(now) {
			mine = append(mine, ev)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].At.Before(mine[j].At) })

	last := -1
	for i, ev := range mine {
		if ev.Action == domain.ActionRemove || ev.Action == domain.ActionLeave {
			last = i
		}
	}
	if last < 0 {
		return f
	}

	w := &gap{from: mine[last].At, open: true}
	for _, ev := range mine[last+1:] {
		if ev.Action == domain.ActionAdd && ev.At.After(w.from) {
			w.until = ev.At
			w.open = false
			break
		}
	}

	if w.open && isParticipant {
		w.suspect = true
		logger.Warn("Inconsistent membership log, showing messages after departure",
			zap.String("user_id", user.String()),
			zap.Time("departed_at", w.from))
	}

	f.window = w
	return f
}

// ForChat builds the filter for user in chat
func ForChat(chat *domain.Chat, user uuid.UUID, now time.Time) *Filter {
	return NewFilter(chat.MembershipEvents, user, chat.IsParticipant(user), now)
}

// Inconsistent reports whether the window was built from an inconsistent log
func (f *Filter) Inconsistent() bool {
	return f.window != nil && f.window.suspect
}

// Decide returns the visibility of a message created at the given time
func (f *Filter) Decide(at time.Time) Decision {
	if f.window == nil || !f.window.contains(at) {
		return Decision{Visible: true}
	}
	if f.window.suspect {
		return Decision{Visible: true, Inconsistent: true}
	}
	return Decision{Visible: false}
}

// Visible reports whether a message created at the given time is shown
func (f *Filter) Visible(at time.Time) bool {
	return f.Decide(at).Visible
}

// Apply returns the messages the user may see, in order. Messages shown
// despite an inconsistent log are marked on a copy.
func (f *Filter) Apply(msgs []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		d := f.Decide(m.CreatedAt)
		if !d.Visible {
			metrics.ChatGapFilteredTotal.Inc()
			continue
		}
		if d.Inconsistent {
			metrics.ChatGapInconsistentTotal.Inc()
			marked := *m
			marked.MembershipInconsistent = true
			m = &marked
		}
		out = append(out, m)
	}
	return out
}

// CountUnread counts the messages unread by the user that the filter shows
func (f *Filter) CountUnread(msgs []*domain.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsUnreadFor(f.user) && f.Visible(m.CreatedAt) {
			n++
		}
	}
	return n
}
