package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classmeet/backend/internal/lifecycle"
	"github.com/classmeet/backend/internal/models"
	"github.com/classmeet/backend/internal/store"
)

// emptyStore satisfies the controller's store interface with not-found
// answers, enough for exercising the socket dispatch paths.
type emptyStore struct{}

func (emptyStore) CreateSession(context.Context, string, string) (*models.Session, *models.User, error) {
	return nil, nil, store.ErrNotFound
}
func (emptyStore) GetSession(context.Context, uuid.UUID) (*models.Session, error) {
	return nil, store.ErrNotFound
}
func (emptyStore) GetUser(context.Context, uuid.UUID) (*models.User, error) {
	return nil, store.ErrNotFound
}
func (emptyStore) JoinSession(context.Context, uuid.UUID, string, bool) (*models.User, *models.Session, error) {
	return nil, nil, store.ErrNotFound
}
func (emptyStore) LeaveSession(context.Context, uuid.UUID, uuid.UUID) (*store.LeaveResult, error) {
	return nil, store.ErrNotFound
}
func (emptyStore) AddMessage(context.Context, uuid.UUID, uuid.UUID, string, bool, time.Time) (*models.Message, error) {
	return nil, store.ErrNotFound
}
func (emptyStore) ListMessages(context.Context, uuid.UUID) ([]models.Message, error) {
	return nil, nil
}
func (emptyStore) MarkQuestionAnswered(context.Context, uuid.UUID, uuid.UUID) error {
	return store.ErrNotFound
}
func (emptyStore) SetHandRaised(context.Context, uuid.UUID, bool) error   { return store.ErrNotFound }
func (emptyStore) SetMuted(context.Context, uuid.UUID, bool) error        { return store.ErrNotFound }
func (emptyStore) SetVideoEnabled(context.Context, uuid.UUID, bool) error { return store.ErrNotFound }
func (emptyStore) SetStreaming(context.Context, uuid.UUID, bool) error    { return store.ErrNotFound }
func (emptyStore) StartLivestream(context.Context, uuid.UUID) error       { return store.ErrNotFound }
func (emptyStore) StopLivestream(context.Context, uuid.UUID) (*string, error) {
	return nil, store.ErrNotFound
}
func (emptyStore) SetProducer(context.Context, uuid.UUID, string) error { return store.ErrNotFound }
func (emptyStore) SetSharedScreen(context.Context, uuid.UUID, uuid.UUID) error {
	return store.ErrNotFound
}
func (emptyStore) ClearSharedScreen(context.Context, uuid.UUID, uuid.UUID) error {
	return store.ErrNotFound
}
func (emptyStore) ListActiveLivestreams(context.Context) ([]models.LivestreamSummary, error) {
	return nil, nil
}

func newBoundClient(hub *Hub) *Client {
	ctrl := lifecycle.NewController(emptyStore{}, nil, hub, nil, zap.NewNop())
	return &Client{
		ID:     uuid.New().String(),
		hub:    hub,
		ctrl:   ctrl,
		send:   make(chan WSMessage, 8),
		logger: zap.NewNop(),
	}
}

func joinMessage(t *testing.T, sessionID, userID uuid.UUID) WSMessage {
	t.Helper()
	data, err := json.Marshal(roomRef{SessionID: sessionID, UserID: userID})
	require.NoError(t, err)
	return WSMessage{Event: "join", Data: data}
}

func TestJoinBindsRoom(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	c := newBoundClient(hub)
	sessionID, userID := uuid.New(), uuid.New()

	c.handle(joinMessage(t, sessionID, userID))

	assert.True(t, c.joined)
	assert.Equal(t, sessionID, c.SessionID)
	assert.Equal(t, userID, c.UserID)
	assert.Equal(t, 1, hub.MemberCount(sessionID))
}

func TestRejoinReleasesPreviousRoom(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	c := newBoundClient(hub)
	first, second := uuid.New(), uuid.New()
	userID := uuid.New()

	c.handle(joinMessage(t, first, userID))
	require.Equal(t, 1, hub.MemberCount(first))

	c.handle(joinMessage(t, second, userID))

	assert.Zero(t, hub.MemberCount(first), "old room must not keep the rebound client")
	assert.Equal(t, 1, hub.MemberCount(second))

	hub.Unregister(c)
	assert.Zero(t, hub.MemberCount(second))
}

func TestRejoinCancelsOldSubscription(t *testing.T) {
	ps := &fakePubSub{}
	hub := NewHub(zap.NewNop(), ps, ps)
	c := newBoundClient(hub)

	c.handle(joinMessage(t, uuid.New(), uuid.New()))
	c.handle(joinMessage(t, uuid.New(), uuid.New()))

	assert.Equal(t, 1, ps.cancelled, "vacated room must release its channel subscription")
}

func TestJoinIgnoresMalformedRef(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	c := newBoundClient(hub)

	c.handle(WSMessage{Event: "join", Data: json.RawMessage(`{"sessionId":"not-a-uuid"}`)})

	assert.False(t, c.joined)
}
