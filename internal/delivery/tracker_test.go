package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sealedchat-backend/internal/domain"
)

// memoryStore keeps delivery states in memory with set-union writes
type memoryStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*State
	writes int
}

func newMemoryStore(states ...*State) *memoryStore {
	s := &memoryStore{states: make(map[uuid.UUID]*State)}
	for _, st := range states {
		s.states[st.MessageID] = st
	}
	return s
}

func (s *memoryStore) GetDeliveryState(ctx context.Context, messageID uuid.UUID) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return copyState(st), nil
}

func (s *memoryStore) AddReceipt(ctx context.Context, messageID, userID uuid.UUID, status Status) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	st := s.states[messageID]
	st.DeliveredTo = domain.UnionIDs(st.DeliveredTo, userID)
	if status == StatusSeen {
		st.SeenBy = domain.UnionIDs(st.SeenBy, userID)
	}
	return copyState(st), nil
}

func copyState(st *State) *State {
	cp := *st
	cp.DeliveredTo = append([]uuid.UUID(nil), st.DeliveredTo...)
	cp.SeenBy = append([]uuid.UUID(nil), st.SeenBy...)
	return &cp
}

// racingStore holds every load until n loads are in flight, so separate
// trackers all act on the same stale snapshot.
type racingStore struct {
	*memoryStore
	loads sync.WaitGroup
}

func newRacingStore(n int, states ...*State) *racingStore {
	s := &racingStore{memoryStore: newMemoryStore(states...)}
	s.loads.Add(n)
	return s
}

func (s *racingStore) GetDeliveryState(ctx context.Context, messageID uuid.UUID) (*State, error) {
	st, err := s.memoryStore.GetDeliveryState(ctx, messageID)
	s.loads.Done()
	s.loads.Wait()
	return st, err
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyStatus(ctx context.Context, senderID uuid.UUID, update domain.StatusUpdate) error {
	args := m.Called(ctx, senderID, update)
	return args.Error(0)
}

func groupState(sender uuid.UUID, recipients ...uuid.UUID) *State {
	return &State{
		MessageID:  uuid.New(),
		ChatID:     uuid.New(),
		SenderID:   sender,
		IsGroup:    true,
		Recipients: recipients,
	}
}

func TestAggregate_Private(t *testing.T) {
	sender, bob := uuid.New(), uuid.New()
	st := &State{SenderID: sender, Recipients: []uuid.UUID{bob}}

	assert.Equal(t, StatusSent, Aggregate(st))
	st.DeliveredTo = []uuid.UUID{bob}
	assert.Equal(t, StatusDelivered, Aggregate(st))
	st.SeenBy = []uuid.UUID{bob}
	assert.Equal(t, StatusSeen, Aggregate(st))
}

func TestAggregate_Group(t *testing.T) {
	sender, b, c := uuid.New(), uuid.New(), uuid.New()
	st := groupState(sender, b, c)

	st.DeliveredTo = []uuid.UUID{b}
	assert.Equal(t, StatusSent, Aggregate(st))

	// B seen, C only delivered
	st.DeliveredTo = []uuid.UUID{b, c}
	st.SeenBy = []uuid.UUID{b}
	assert.Equal(t, StatusDelivered, Aggregate(st))

	st.SeenBy = []uuid.UUID{b, c}
	assert.Equal(t, StatusSeen, Aggregate(st))
}

func TestAggregate_SeenWithoutDeliveredCountsAsSeen(t *testing.T) {
	sender, b := uuid.New(), uuid.New()
	st := groupState(sender, b)
	st.SeenBy = []uuid.UUID{b}
	assert.Equal(t, StatusSeen, Aggregate(st))
}

func TestMarkDelivered_EmitsOnlyOnAggregateChange(t *testing.T) {
	sender, b, c := uuid.New(), uuid.New(), uuid.New()
	st := groupState(sender, b, c)
	store := newMemoryStore(st)
	notifier := new(MockNotifier)
	tracker := NewTracker(store, notifier)
	ctx := context.Background()

	// B alone does not move the group aggregate
	update, err := tracker.MarkDelivered(ctx, st.MessageID, b)
	require.NoError(t, err)
	assert.Nil(t, update)

	notifier.On("NotifyStatus", ctx, sender, mock.MatchedBy(func(u domain.StatusUpdate) bool {
		return u.Status == "delivered" && u.MessageID == st.MessageID
	})).Return(nil).Once()

	update, err = tracker.MarkDelivered(ctx, st.MessageID, c)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, "delivered", update.Status)
	assert.ElementsMatch(t, []uuid.UUID{b, c}, update.DeliveredTo)

	notifier.AssertExpectations(t)
}

func TestMarkDelivered_ReplayIsNoOp(t *testing.T) {
	sender, b := uuid.New(), uuid.New()
	st := &State{MessageID: uuid.New(), SenderID: sender, Recipients: []uuid.UUID{b}}
	store := newMemoryStore(st)
	notifier := new(MockNotifier)
	notifier.On("NotifyStatus", mock.Anything, sender, mock.Anything).Return(nil).Once()
	tracker := NewTracker(store, notifier)
	ctx := context.Background()

	first, err := tracker.MarkDelivered(ctx, st.MessageID, b)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := tracker.MarkDelivered(ctx, st.MessageID, b)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, store.writes)

	notifier.AssertExpectations(t)
}

func TestMarkDelivered_IgnoresSenderAndStrangers(t *testing.T) {
	sender, b := uuid.New(), uuid.New()
	st := &State{MessageID: uuid.New(), SenderID: sender, Recipients: []uuid.UUID{b}}
	store := newMemoryStore(st)
	tracker := NewTracker(store, new(MockNotifier))
	ctx := context.Background()

	for _, who := range []uuid.UUID{sender, uuid.New()} {
		update, err := tracker.MarkDelivered(ctx, st.MessageID, who)
		require.NoError(t, err)
		assert.Nil(t, update)
	}
	assert.Zero(t, store.writes)
}

func TestMarkDelivered_UnknownMessage(t *testing.T) {
	tracker := NewTracker(newMemoryStore(), nil)
	_, err := tracker.MarkDelivered(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestMarkDelivered_NotifyFailureDoesNotFailAck(t *testing.T) {
	sender, b := uuid.New(), uuid.New()
	st := &State{MessageID: uuid.New(), SenderID: sender, Recipients: []uuid.UUID{b}}
	notifier := new(MockNotifier)
	notifier.On("NotifyStatus", mock.Anything, sender, mock.Anything).Return(errors.New("redis down"))
	tracker := NewTracker(newMemoryStore(st), notifier)

	update, err := tracker.MarkDelivered(context.Background(), st.MessageID, b)
	require.NoError(t, err)
	assert.NotNil(t, update)
}

func TestMarkSeen_PromotesToDelivered(t *testing.T) {
	sender, b := uuid.New(), uuid.New()
	st := &State{MessageID: uuid.New(), SenderID: sender, Recipients: []uuid.UUID{b}}
	store := newMemoryStore(st)
	notifier := new(MockNotifier)
	notifier.On("NotifyStatus", mock.Anything, sender, mock.Anything).Return(nil)
	tracker := NewTracker(store, notifier)

	updates, err := tracker.MarkSeen(context.Background(), []uuid.UUID{st.MessageID}, b)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "seen", updates[0].Status)
	assert.Contains(t, updates[0].DeliveredTo, b)
	assert.Contains(t, updates[0].SeenBy, b)
}

func TestMarkSeen_BulkContinuesPastFailures(t *testing.T) {
	sender, b := uuid.New(), uuid.New()
	m1 := &State{MessageID: uuid.New(), SenderID: sender, Recipients: []uuid.UUID{b}}
	m2 := &State{MessageID: uuid.New(), SenderID: sender, Recipients: []uuid.UUID{b}}
	notifier := new(MockNotifier)
	notifier.On("NotifyStatus", mock.Anything, sender, mock.Anything).Return(nil)
	tracker := NewTracker(newMemoryStore(m1, m2), notifier)

	updates, err := tracker.MarkSeen(context.Background(), []uuid.UUID{m1.MessageID, uuid.New(), m2.MessageID}, b)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	assert.Len(t, updates, 2)
}

func TestTracker_ConcurrentAcksConverge(t *testing.T) {
	sender := uuid.New()
	recipients := make([]uuid.UUID, 20)
	for i := range recipients {
		recipients[i] = uuid.New()
	}
	st := groupState(sender, recipients...)
	store := newMemoryStore(st)

	var mu sync.Mutex
	var emitted []string
	notifier := new(MockNotifier)
	notifier.On("NotifyStatus", mock.Anything, sender, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		emitted = append(emitted, args.Get(2).(domain.StatusUpdate).Status)
		mu.Unlock()
	}).Return(nil)
	tracker := NewTracker(store, notifier)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, r := range recipients {
		for i := 0; i < 3; i++ {
			wg.Add(2)
			go func(r uuid.UUID) {
				defer wg.Done()
				_, _ = tracker.MarkDelivered(ctx, st.MessageID, r)
			}(r)
			go func(r uuid.UUID) {
				defer wg.Done()
				_, _ = tracker.MarkSeen(ctx, []uuid.UUID{st.MessageID}, r)
			}(r)
		}
	}
	wg.Wait()

	final, err := store.GetDeliveryState(ctx, st.MessageID)
	require.NoError(t, err)
	assert.Equal(t, StatusSeen, Aggregate(final))
	assert.ElementsMatch(t, recipients, final.SeenBy)
	assert.ElementsMatch(t, recipients, final.DeliveredTo)

	// Each level is reported at most once and never out of order
	require.NotEmpty(t, emitted)
	assert.Equal(t, "seen", emitted[len(emitted)-1])
	assert.LessOrEqual(t, len(emitted), 2)
	assert.Zero(t, tracker.locks.size())
}

func TestTracker_SeparateInstancesDoNotLoseAggregateChange(t *testing.T) {
	sender, b, c := uuid.New(), uuid.New(), uuid.New()
	st := groupState(sender, b, c)
	st.DeliveredTo = []uuid.UUID{b, c}
	store := newRacingStore(2, st)

	var mu sync.Mutex
	var emitted []string
	notifier := new(MockNotifier)
	notifier.On("NotifyStatus", mock.Anything, sender, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		emitted = append(emitted, args.Get(2).(domain.StatusUpdate).Status)
		mu.Unlock()
	}).Return(nil)

	// Two relay instances share the store but not their locks
	first := NewTracker(store, notifier)
	second := NewTracker(store, notifier)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := first.MarkSeen(ctx, []uuid.UUID{st.MessageID}, b)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := second.MarkSeen(ctx, []uuid.UUID{st.MessageID}, c)
		assert.NoError(t, err)
	}()
	wg.Wait()

	final, err := store.memoryStore.GetDeliveryState(ctx, st.MessageID)
	require.NoError(t, err)
	assert.Equal(t, StatusSeen, Aggregate(final))
	assert.Contains(t, emitted, "seen")
}
