package client

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sealedchat-backend/internal/domain"
	"sealedchat-backend/pkg/e2ee"
	"sealedchat-backend/pkg/logger"
)

var (
	identityOnce sync.Once
	identityPool []*e2ee.Identity
)

func testIdentities(t *testing.T) []*e2ee.Identity {
	t.Helper()
	identityOnce.Do(func() {
		for i := 0; i < 3; i++ {
			id, err := e2ee.GenerateIdentity(e2ee.MinKeyBits)
			if err != nil {
				panic(err)
			}
			identityPool = append(identityPool, id)
		}
	})
	return identityPool
}

type memoryDirectory struct {
	mu    sync.Mutex
	keys  map[uuid.UUID]*domain.IdentityKey
	calls int
}

func (d *memoryDirectory) GetPublicKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	key, ok := d.keys[userID]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return key, nil
}

type device struct {
	id      uuid.UUID
	session *Session
}

type world struct {
	dir     *memoryDirectory
	devices []*device
	chat    *domain.Chat
}

const testPassword = "correct horse battery staple"

// newWorld creates three users sharing a group chat, each with an unlocked session
func newWorld(t *testing.T) *world {
	t.Helper()
	ids := testIdentities(t)
	ks := &e2ee.KeyStore{Iterations: 1000, SaltContext: "test"}
	dir := &memoryDirectory{keys: map[uuid.UUID]*domain.IdentityKey{}}
	cached := NewCachedDirectory(dir, time.Minute, 100)

	w := &world{dir: dir, chat: &domain.Chat{ChatID: uuid.New(), IsGroup: true}}
	for i, identity := range ids {
		userID := uuid.New()
		pemKey, err := e2ee.ExportPublicKey(identity.PublicKey)
		require.NoError(t, err)
		dir.keys[userID] = &domain.IdentityKey{UserID: userID, PublicKey: pemKey}

		sealed, err := ks.SealPrivateKey(identity.PrivateKey, testPassword)
		require.NoError(t, err)
		vault := NewFileVault(filepath.Join(t.TempDir(), "identity.json"))
		require.NoError(t, vault.Store(sealed))

		s := NewSession(userID, vault, ks, cached)
		require.NoError(t, s.Unlock(testPassword), "device %d", i)
		w.devices = append(w.devices, &device{id: userID, session: s})
		w.chat.Participants = append(w.chat.Participants, userID)
	}
	return w
}

func (w *world) send(t *testing.T, from *device, text string) *domain.Message {
	t.Helper()
	env, err := from.session.Compose(context.Background(), w.chat, []byte(text))
	require.NoError(t, err)
	return &domain.Message{
		MessageID: uuid.New(),
		ChatID:    w.chat.ChatID,
		SenderID:  from.id,
		Kind:      domain.KindText,
		Envelope:  env,
		CreatedAt: time.Now(),
	}
}

func TestSession_UnlockWrongPassword(t *testing.T) {
	id := testIdentities(t)[0]
	ks := &e2ee.KeyStore{Iterations: 1000, SaltContext: "test"}
	sealed, err := ks.SealPrivateKey(id.PrivateKey, testPassword)
	require.NoError(t, err)

	vault := NewFileVault(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, vault.Store(sealed))

	s := NewSession(uuid.New(), vault, ks, nil)
	assert.ErrorIs(t, s.Unlock("nope"), e2ee.ErrWrongPassphrase)
	assert.False(t, s.Unlocked())

	require.NoError(t, s.Unlock(testPassword))
	assert.True(t, s.Unlocked())

	s.Lock()
	assert.False(t, s.Unlocked())
}

func TestSession_UnlockWithoutIdentity(t *testing.T) {
	s := NewSession(uuid.New(), NewFileVault(filepath.Join(t.TempDir(), "missing.json")), e2ee.NewKeyStore(), nil)
	assert.ErrorIs(t, s.Unlock(testPassword), ErrNoIdentity)
}

func TestSession_ComposeRenderForEveryParticipant(t *testing.T) {
	w := newWorld(t)
	msg := w.send(t, w.devices[0], "hello group")

	assert.Len(t, msg.Envelope.WrappedKeys, 3)
	for _, d := range w.devices {
		r := d.session.Render(msg)
		assert.Equal(t, StatePlain, r.State)
		assert.Equal(t, "hello group", r.Text)
		assert.Equal(t, msg.MessageID, r.MessageID)
	}
}

func TestSession_ComposeRequiresParticipant(t *testing.T) {
	w := newWorld(t)
	outsider := w.devices[2]
	w.chat.Participants = w.chat.Participants[:2]

	_, err := outsider.session.Compose(context.Background(), w.chat, []byte("x"))
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSession_ComposeFailsOnMissingKey(t *testing.T) {
	w := newWorld(t)
	w.chat.Participants = append(w.chat.Participants, uuid.New())

	_, err := w.devices[0].session.Compose(context.Background(), w.chat, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestSession_RenderStates(t *testing.T) {
	w := newWorld(t)
	alice, bob, carol := w.devices[0], w.devices[1], w.devices[2]

	// addressed to alice and bob only
	w.chat.Participants = []uuid.UUID{alice.id, bob.id}
	msg := w.send(t, alice, "just us")
	w.chat.Participants = append(w.chat.Participants, carol.id)

	t.Run("not addressed", func(t *testing.T) {
		r := carol.session.Render(msg)
		assert.Equal(t, StateNotAddressed, r.State)
		assert.Equal(t, TextNotAddressed, r.Text)
	})

	t.Run("locked", func(t *testing.T) {
		bob.session.Lock()
		defer func() { require.NoError(t, bob.session.Unlock(testPassword)) }()
		assert.Equal(t, StateCannotDecrypt, bob.session.Render(msg).State)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := *msg
		env := *msg.Envelope
		raw, err := base64.StdEncoding.DecodeString(env.ContentCiphertext)
		require.NoError(t, err)
		raw[0] ^= 0x01
		env.ContentCiphertext = base64.StdEncoding.EncodeToString(raw)
		tampered.Envelope = &env
		r := bob.session.Render(&tampered)
		assert.Equal(t, StateCannotDecrypt, r.State)
		assert.Equal(t, e2ee.KindDecryptFailed, r.Failure)
	})

	t.Run("malformed encoding", func(t *testing.T) {
		broken := *msg
		env := *msg.Envelope
		env.IV = "***"
		broken.Envelope = &env
		assert.Equal(t, StateMalformed, bob.session.Render(&broken).State)
	})

	t.Run("missing envelope", func(t *testing.T) {
		broken := *msg
		broken.Envelope = nil
		assert.Equal(t, StateMalformed, bob.session.Render(&broken).State)
	})

	t.Run("deleted for everyone", func(t *testing.T) {
		r := bob.session.Render(msg.Tombstone())
		assert.Equal(t, StateDeleted, r.State)
		assert.Equal(t, TextDeleted, r.Text)
	})

	t.Run("system", func(t *testing.T) {
		sys := &domain.Message{
			MessageID: uuid.New(),
			Kind:      domain.KindSystem,
			System:    &domain.SystemFields{Action: domain.ActionLeave, TargetUser: carol.id, Initiator: carol.id},
		}
		r := alice.session.Render(sys)
		assert.Equal(t, StateSystem, r.State)
		assert.Contains(t, r.Text, "left the group")
	})

	t.Run("call", func(t *testing.T) {
		call := &domain.Message{
			MessageID: uuid.New(),
			Kind:      domain.KindCall,
			Call:      &domain.CallData{CallType: "video", Status: "missed"},
		}
		r := alice.session.Render(call)
		assert.Equal(t, StateCall, r.State)
		assert.Equal(t, "Missed video call", r.Text)

		call.Call = &domain.CallData{CallType: "voice", Status: "completed", Duration: 65}
		assert.Equal(t, "Voice call (1m5s)", alice.session.Render(call).Text)
	})
}

func TestSession_RenderWarnsOnCryptoFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	w := newWorld(t)
	alice, bob := w.devices[0], w.devices[1]
	msg := w.send(t, alice, "hello")

	tampered := *msg
	env := *msg.Envelope
	wrapped := make(map[uuid.UUID]string, len(env.WrappedKeys))
	for id, key := range env.WrappedKeys {
		wrapped[id] = key
	}
	raw, err := base64.StdEncoding.DecodeString(wrapped[bob.id])
	require.NoError(t, err)
	raw[0] ^= 0x01
	wrapped[bob.id] = base64.StdEncoding.EncodeToString(raw)
	env.WrappedKeys = wrapped
	tampered.Envelope = &env

	r := bob.session.Render(&tampered)
	assert.Equal(t, e2ee.KindUnwrapFailed, r.Failure)

	entries := logs.FilterMessage("Failed to open envelope").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, string(e2ee.KindUnwrapFailed), entries[0].ContextMap()["kind"])
}

func TestSession_RenderAllNeverAborts(t *testing.T) {
	w := newWorld(t)
	alice, bob := w.devices[0], w.devices[1]

	good := w.send(t, alice, "first")
	bad := w.send(t, alice, "second")
	env := *bad.Envelope
	env.WrappedKeys = map[uuid.UUID]string{alice.id: env.WrappedKeys[alice.id]}
	bad.Envelope = &env
	last := w.send(t, alice, "third")

	out := bob.session.RenderAll([]*domain.Message{good, bad, nil, last})
	require.Len(t, out, 4)
	assert.Equal(t, StatePlain, out[0].State)
	assert.Equal(t, StateNotAddressed, out[1].State)
	assert.Equal(t, StateMalformed, out[2].State)
	assert.Equal(t, "third", out[3].Text)
}

func TestSession_SafetyNumberIsSymmetric(t *testing.T) {
	w := newWorld(t)
	alice, bob := w.devices[0], w.devices[1]

	ab, err := alice.session.SafetyNumber(context.Background(), bob.id)
	require.NoError(t, err)
	ba, err := bob.session.SafetyNumber(context.Background(), alice.id)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 71)

	_, err = alice.session.SafetyNumber(context.Background(), alice.id)
	assert.Error(t, err)
}

func TestCachedDirectory(t *testing.T) {
	w := newWorld(t)
	cached := NewCachedDirectory(w.dir, time.Minute, 10)
	target := w.devices[1].id
	before := w.dir.calls

	_, pemA, err := cached.PublicKey(context.Background(), target)
	require.NoError(t, err)
	_, pemB, err := cached.PublicKey(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, pemA, pemB)
	assert.Equal(t, before+1, w.dir.calls)

	cached.Invalidate(target)
	_, _, err = cached.PublicKey(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, before+2, w.dir.calls)

	w.dir.keys[uuid.Nil] = &domain.IdentityKey{PublicKey: "garbage"}
	_, _, err = cached.PublicKey(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, e2ee.ErrInvalidPublicKey)
}
