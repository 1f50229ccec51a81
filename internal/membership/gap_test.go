package membership

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"sealedchat-backend/internal/domain"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func event(action domain.MembershipAction, user uuid.UUID, sec int) domain.MembershipEvent {
	return domain.MembershipEvent{Action: action, TargetUser: user, Initiator: uuid.New(), At: at(sec)}
}

func msgAt(sender uuid.UUID, sec int) *domain.Message {
	return &domain.Message{MessageID: uuid.New(), SenderID: sender, Kind: domain.KindText, CreatedAt: at(sec)}
}

func TestFilter_NoEvents(t *testing.T) {
	f := NewFilter(nil, uuid.New(), true, at(100))
	assert.True(t, f.Visible(at(5)))
	assert.False(t, f.Inconsistent())
}

func TestFilter_RemovedThenReAdded(t *testing.T) {
	u := uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionRemove, u, 10),
		event(domain.ActionAdd, u, 20),
	}
	f := NewFilter(events, u, true, at(100))

	assert.True(t, f.Visible(at(5)))
	assert.False(t, f.Visible(at(10)))
	assert.False(t, f.Visible(at(15)))
	assert.True(t, f.Visible(at(20)))
	assert.True(t, f.Visible(at(25)))
	assert.False(t, f.Inconsistent())
}

func TestFilter_RemovedNeverReAdded(t *testing.T) {
	u := uuid.New()
	f := NewFilter([]domain.MembershipEvent{event(domain.ActionRemove, u, 10)}, u, false, at(100))

	assert.True(t, f.Visible(at(5)))
	assert.False(t, f.Visible(at(15)))
	assert.False(t, f.Visible(at(10_000)))
}

func TestFilter_LeaveIsADeparture(t *testing.T) {
	u := uuid.New()
	f := NewFilter([]domain.MembershipEvent{event(domain.ActionLeave, u, 10)}, u, false, at(100))
	assert.False(t, f.Visible(at(15)))
}

func TestFilter_OnlyLatestCycleCounts(t *testing.T) {
	u := uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionAdd, u, 0),
		event(domain.ActionRemove, u, 10),
		event(domain.ActionAdd, u, 20),
		event(domain.ActionRemove, u, 30),
		event(domain.ActionAdd, u, 40),
	}
	f := NewFilter(events, u, true, at(100))

	assert.True(t, f.Visible(at(5)))
	assert.True(t, f.Visible(at(15)))
	assert.True(t, f.Visible(at(25)))
	assert.False(t, f.Visible(at(30)))
	assert.False(t, f.Visible(at(35)))
	assert.True(t, f.Visible(at(40)))
	assert.False(t, f.Inconsistent())
}

func TestFilter_IgnoresOtherUsersAndFutureEvents(t *testing.T) {
	u, other := uuid.New(), uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionRemove, other, 10),
		event(domain.ActionRemove, u, 50),
	}
	f := NewFilter(events, u, true, at(40))

	assert.True(t, f.Visible(at(15)))
	assert.True(t, f.Visible(at(60)))
	assert.False(t, f.Inconsistent())
}

func TestFilter_AddAtRemovalInstantDoesNotCloseGap(t *testing.T) {
	u := uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionRemove, u, 10),
		event(domain.ActionAdd, u, 10),
	}
	f := NewFilter(events, u, false, at(100))
	assert.False(t, f.Visible(at(50)))
}

func TestFilter_FailsOpenForParticipantWithoutReAdd(t *testing.T) {
	u := uuid.New()
	f := NewFilter([]domain.MembershipEvent{event(domain.ActionRemove, u, 10)}, u, true, at(100))

	assert.True(t, f.Inconsistent())
	assert.Equal(t, Decision{Visible: true, Inconsistent: true}, f.Decide(at(15)))
	assert.Equal(t, Decision{Visible: true}, f.Decide(at(5)))
}

func TestFilter_DuplicateRemovalUsesLatest(t *testing.T) {
	u := uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionRemove, u, 10),
		event(domain.ActionRemove, u, 30),
	}
	f := NewFilter(events, u, false, at(100))

	assert.False(t, f.Inconsistent())
	assert.Equal(t, Decision{Visible: true}, f.Decide(at(15)))
	assert.Equal(t, Decision{Visible: false}, f.Decide(at(35)))
}

func TestFilter_SortsUnorderedLog(t *testing.T) {
	u := uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionAdd, u, 20),
		event(domain.ActionRemove, u, 10),
	}
	f := NewFilter(events, u, true, at(100))

	assert.False(t, f.Inconsistent())
	assert.False(t, f.Visible(at(15)))
	assert.True(t, f.Visible(at(25)))
}

func TestFilter_Apply(t *testing.T) {
	u, sender := uuid.New(), uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionRemove, u, 10),
		event(domain.ActionAdd, u, 20),
	}
	f := NewFilter(events, u, true, at(100))

	msgs := []*domain.Message{msgAt(sender, 5), msgAt(sender, 15), msgAt(sender, 25)}
	visible := f.Apply(msgs)

	assert.Equal(t, []*domain.Message{msgs[0], msgs[2]}, visible)
}

func TestFilter_ApplyMarksInconsistentCopies(t *testing.T) {
	u, sender := uuid.New(), uuid.New()
	f := NewFilter([]domain.MembershipEvent{event(domain.ActionRemove, u, 10)}, u, true, at(100))

	original := msgAt(sender, 15)
	out := f.Apply([]*domain.Message{original})

	assert.Len(t, out, 1)
	assert.True(t, out[0].MembershipInconsistent)
	assert.False(t, original.MembershipInconsistent)
}

func TestFilter_UnreadCountExcludesGapMessages(t *testing.T) {
	u, sender := uuid.New(), uuid.New()
	events := []domain.MembershipEvent{
		event(domain.ActionRemove, u, 10),
		event(domain.ActionAdd, u, 20),
	}
	f := NewFilter(events, u, true, at(100))

	seen := msgAt(sender, 21)
	seen.SeenBy = []uuid.UUID{u}
	own := msgAt(u, 22)
	deleted := msgAt(sender, 23)
	deleted.DeletedForAll = true

	msgs := []*domain.Message{
		msgAt(sender, 5),  // unread, visible
		msgAt(sender, 12), // unread, in gap
		msgAt(sender, 18), // unread, in gap
		seen,
		own,
		deleted,
		msgAt(sender, 30), // unread, visible
	}

	assert.Equal(t, 2, f.CountUnread(msgs))
	assert.Len(t, f.Apply(msgs), 5)
}

func TestForChat(t *testing.T) {
	u := uuid.New()
	chat := &domain.Chat{
		IsGroup:          true,
		Participants:     []uuid.UUID{uuid.New()},
		MembershipEvents: []domain.MembershipEvent{event(domain.ActionRemove, u, 10)},
	}
	f := ForChat(chat, u, at(100))
	assert.False(t, f.Visible(at(15)))
	assert.False(t, f.Inconsistent())
}
