package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classmeet/backend/internal/events"
	"github.com/classmeet/backend/internal/models"
	"github.com/classmeet/backend/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateSession(ctx context.Context, teacherName, sessionName string) (*models.Session, *models.User, error) {
	args := m.Called(ctx, teacherName, sessionName)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Session), args.Get(1).(*models.User), args.Error(2)
}

func (m *mockStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockStore) JoinSession(ctx context.Context, sessionID uuid.UUID, name string, isTeacher bool) (*models.User, *models.Session, error) {
	args := m.Called(ctx, sessionID, name, isTeacher)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.User), args.Get(1).(*models.Session), args.Error(2)
}

func (m *mockStore) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) (*store.LeaveResult, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.LeaveResult), args.Error(1)
}

func (m *mockStore) AddMessage(ctx context.Context, sessionID, userID uuid.UUID, content string, isQuestion bool, ts time.Time) (*models.Message, error) {
	args := m.Called(ctx, sessionID, userID, content, isQuestion, ts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockStore) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockStore) MarkQuestionAnswered(ctx context.Context, sessionID, messageID uuid.UUID) error {
	return m.Called(ctx, sessionID, messageID).Error(0)
}

func (m *mockStore) SetHandRaised(ctx context.Context, userID uuid.UUID, raised bool) error {
	return m.Called(ctx, userID, raised).Error(0)
}

func (m *mockStore) SetMuted(ctx context.Context, userID uuid.UUID, muted bool) error {
	return m.Called(ctx, userID, muted).Error(0)
}

func (m *mockStore) SetVideoEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	return m.Called(ctx, userID, enabled).Error(0)
}

func (m *mockStore) SetStreaming(ctx context.Context, userID uuid.UUID, streaming bool) error {
	return m.Called(ctx, userID, streaming).Error(0)
}

func (m *mockStore) StartLivestream(ctx context.Context, sessionID uuid.UUID) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockStore) StopLivestream(ctx context.Context, sessionID uuid.UUID) (*string, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*string), args.Error(1)
}

func (m *mockStore) SetProducer(ctx context.Context, sessionID uuid.UUID, producerID string) error {
	return m.Called(ctx, sessionID, producerID).Error(0)
}

func (m *mockStore) SetSharedScreen(ctx context.Context, sessionID, userID uuid.UUID) error {
	return m.Called(ctx, sessionID, userID).Error(0)
}

func (m *mockStore) ClearSharedScreen(ctx context.Context, sessionID, userID uuid.UUID) error {
	return m.Called(ctx, sessionID, userID).Error(0)
}

func (m *mockStore) ListActiveLivestreams(ctx context.Context) ([]models.LivestreamSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LivestreamSummary), args.Error(1)
}

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (string, error) {
	args := m.Called(ctx, transportID, kind, rtpParameters)
	return args.String(0), args.Error(1)
}

func (m *mockBridge) CloseProducer(ctx context.Context, producerID string) error {
	return m.Called(ctx, producerID).Error(0)
}

// recordedEvent captures one fan-out for assertions.
type recordedEvent struct {
	SessionID uuid.UUID
	Except    string
	ToClient  string
	Event     string
	Payload   any
}

type fakeRooms struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRooms) Broadcast(sessionID uuid.UUID, event string, payload any) {
	f.record(recordedEvent{SessionID: sessionID, Event: event, Payload: payload})
}

func (f *fakeRooms) BroadcastExcept(sessionID uuid.UUID, exceptClientID, event string, payload any) {
	f.record(recordedEvent{SessionID: sessionID, Except: exceptClientID, Event: event, Payload: payload})
}

func (f *fakeRooms) SendToClient(sessionID uuid.UUID, clientID, event string, payload any) {
	f.record(recordedEvent{SessionID: sessionID, ToClient: clientID, Event: event, Payload: payload})
}

func (f *fakeRooms) record(e recordedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeRooms) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Event
	}
	return out
}

type fakeReaper struct {
	mu       sync.Mutex
	enqueued []string
}

func (f *fakeReaper) EnqueueProducerClose(ctx context.Context, sessionID uuid.UUID, producerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, producerID)
}

func newTestController(st *mockStore, bridge *mockBridge) (*Controller, *fakeRooms, *fakeReaper) {
	rooms := &fakeRooms{}
	reaper := &fakeReaper{}
	return NewController(st, bridge, rooms, reaper, zap.NewNop()), rooms, reaper
}

func strPtr(s string) *string { return &s }

func TestStartLivestreamRejectsStudent(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, userID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{ID: sessionID, IsActive: true}, nil)
	st.On("GetUser", mock.Anything, userID).Return(&models.User{ID: userID, Name: "Bob", IsTeacher: false}, nil)

	err := ctrl.StartLivestream(context.Background(), sessionID, userID, "")
	require.ErrorIs(t, err, ErrNotTeacher)
	assert.Empty(t, rooms.names())
	st.AssertNotCalled(t, "StartLivestream", mock.Anything, mock.Anything)
}

func TestStartLivestreamResetsStaleStream(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true,
		IsLivestreaming: true, ProducerID: strPtr("stale-producer"),
	}, nil)
	st.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, Name: "Ms. Lee", IsTeacher: true}, nil)
	bridge.On("CloseProducer", mock.Anything, "stale-producer").Return(nil)
	st.On("StopLivestream", mock.Anything, sessionID).Return(nil, nil)
	st.On("StartLivestream", mock.Anything, sessionID).Return(nil)
	st.On("SetStreaming", mock.Anything, teacherID, true).Return(nil)

	err := ctrl.StartLivestream(context.Background(), sessionID, teacherID, "")
	require.NoError(t, err)

	bridge.AssertCalled(t, "CloseProducer", mock.Anything, "stale-producer")
	st.AssertCalled(t, "StopLivestream", mock.Anything, sessionID)
	st.AssertCalled(t, "StartLivestream", mock.Anything, sessionID)
	assert.Equal(t, []string{events.ProducerClosed, events.LivestreamStarted}, rooms.names())
}

func TestStartLivestreamNotifiesOriginSeparately(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{ID: sessionID, TeacherID: teacherID, IsActive: true}, nil)
	st.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, Name: "Ms. Lee", IsTeacher: true}, nil)
	st.On("StartLivestream", mock.Anything, sessionID).Return(nil)
	st.On("SetStreaming", mock.Anything, teacherID, true).Return(nil)

	require.NoError(t, ctrl.StartLivestream(context.Background(), sessionID, teacherID, "conn-1"))

	require.Len(t, rooms.events, 2)
	assert.Equal(t, events.StartWebRTCSetup, rooms.events[0].Event)
	assert.Equal(t, "conn-1", rooms.events[0].ToClient)
	assert.Equal(t, events.LivestreamStarted, rooms.events[1].Event)
	assert.Equal(t, "conn-1", rooms.events[1].Except)
}

func TestStopLivestreamWhenIdle(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, _, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{ID: sessionID, TeacherID: teacherID, IsActive: true}, nil)
	st.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, IsTeacher: true}, nil)

	err := ctrl.StopLivestream(context.Background(), sessionID, teacherID, "")
	require.ErrorIs(t, err, store.ErrInvalidState)
	st.AssertNotCalled(t, "StopLivestream", mock.Anything, mock.Anything)
}

func TestStopLivestreamClosesStoredProducer(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true, IsLivestreaming: true,
	}, nil)
	st.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, Name: "Ms. Lee", IsTeacher: true}, nil)
	st.On("StopLivestream", mock.Anything, sessionID).Return(strPtr("prod-1"), nil)
	st.On("SetStreaming", mock.Anything, teacherID, false).Return(nil)
	bridge.On("CloseProducer", mock.Anything, "prod-1").Return(nil)

	require.NoError(t, ctrl.StopLivestream(context.Background(), sessionID, teacherID, ""))
	bridge.AssertCalled(t, "CloseProducer", mock.Anything, "prod-1")
	assert.Equal(t, []string{events.ProducerClosed, events.LivestreamEnded}, rooms.names())
}

func TestStopLivestreamProducerOverride(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, _, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true, IsLivestreaming: true,
	}, nil)
	st.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, IsTeacher: true}, nil)
	st.On("StopLivestream", mock.Anything, sessionID).Return(strPtr("stored"), nil)
	st.On("SetStreaming", mock.Anything, teacherID, false).Return(nil)
	bridge.On("CloseProducer", mock.Anything, "client-known").Return(nil)

	require.NoError(t, ctrl.StopLivestream(context.Background(), sessionID, teacherID, "client-known"))
	bridge.AssertCalled(t, "CloseProducer", mock.Anything, "client-known")
	bridge.AssertNotCalled(t, "CloseProducer", mock.Anything, "stored")
}

func TestStopLivestreamSurvivesBridgeFailure(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, reaper := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true, IsLivestreaming: true,
	}, nil)
	st.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, IsTeacher: true}, nil)
	st.On("StopLivestream", mock.Anything, sessionID).Return(strPtr("prod-1"), nil)
	st.On("SetStreaming", mock.Anything, teacherID, false).Return(nil)
	bridge.On("CloseProducer", mock.Anything, "prod-1").Return(assert.AnError)

	require.NoError(t, ctrl.StopLivestream(context.Background(), sessionID, teacherID, ""))
	assert.Equal(t, []string{"prod-1"}, reaper.enqueued)
	assert.Equal(t, []string{events.LivestreamEnded}, rooms.names())
}

func TestLeaveSessionTeacherDeactivates(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("LeaveSession", mock.Anything, sessionID, teacherID).Return(&store.LeaveResult{
		WasTeacher:         true,
		Deactivated:        true,
		OrphanedProducerID: strPtr("prod-9"),
	}, nil)
	bridge.On("CloseProducer", mock.Anything, "prod-9").Return(nil)

	require.NoError(t, ctrl.LeaveSession(context.Background(), sessionID, teacherID))
	bridge.AssertCalled(t, "CloseProducer", mock.Anything, "prod-9")
	assert.Equal(t, []string{events.ProducerClosed, events.UserLeft}, rooms.names())
}

func TestLeaveSessionStudentKeepsSessionActive(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, studentID := uuid.New(), uuid.New()
	st.On("LeaveSession", mock.Anything, sessionID, studentID).Return(&store.LeaveResult{}, nil)

	require.NoError(t, ctrl.LeaveSession(context.Background(), sessionID, studentID))
	bridge.AssertNotCalled(t, "CloseProducer", mock.Anything, mock.Anything)
	assert.Equal(t, []string{events.UserLeft}, rooms.names())
}

func TestLeaveAfterDeactivationDoesNotRecloseProducer(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID, studentID := uuid.New(), uuid.New(), uuid.New()
	st.On("LeaveSession", mock.Anything, sessionID, teacherID).Return(&store.LeaveResult{
		WasTeacher:         true,
		Deactivated:        true,
		OrphanedProducerID: strPtr("prod-9"),
	}, nil).Once()
	// The store already cleared the producer handle; a later leave from the
	// now-inactive session reports nothing left to clean up.
	st.On("LeaveSession", mock.Anything, sessionID, studentID).Return(&store.LeaveResult{
		Deactivated: true,
	}, nil).Once()
	bridge.On("CloseProducer", mock.Anything, "prod-9").Return(nil).Once()

	require.NoError(t, ctrl.LeaveSession(context.Background(), sessionID, teacherID))
	require.NoError(t, ctrl.LeaveSession(context.Background(), sessionID, studentID))

	bridge.AssertNumberOfCalls(t, "CloseProducer", 1)
	assert.Equal(t, []string{events.ProducerClosed, events.UserLeft, events.UserLeft}, rooms.names())
}

func TestHandleDisconnectToleratesUnknownUser(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, userID := uuid.New(), uuid.New()
	st.On("LeaveSession", mock.Anything, sessionID, userID).Return(nil, store.ErrNotFound)

	ctrl.HandleDisconnect(sessionID, userID)
	assert.Empty(t, rooms.names())
}

func TestJoinSessionTeacherRejoinResetsStream(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	teacher := &models.User{ID: teacherID, Name: "Ms. Lee", IsTeacher: true}
	session := &models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true,
		IsLivestreaming: true, ProducerID: strPtr("half-open"),
	}
	st.On("JoinSession", mock.Anything, sessionID, "Ms. Lee", true).Return(teacher, session, nil)
	bridge.On("CloseProducer", mock.Anything, "half-open").Return(nil)
	st.On("StopLivestream", mock.Anything, sessionID).Return(nil, nil)
	st.On("ListMessages", mock.Anything, sessionID).Return([]models.Message{}, nil)

	_, joined, _, err := ctrl.JoinSession(context.Background(), sessionID, "Ms. Lee", true)
	require.NoError(t, err)

	assert.False(t, joined.IsLivestreaming)
	assert.Nil(t, joined.ProducerID)
	bridge.AssertCalled(t, "CloseProducer", mock.Anything, "half-open")
	assert.Contains(t, rooms.names(), events.UserJoined)
}

func TestJoinSessionStudentDoesNotResetStream(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, _, _ := newTestController(st, bridge)

	sessionID, studentID := uuid.New(), uuid.New()
	student := &models.User{ID: studentID, Name: "Bob"}
	session := &models.Session{
		ID: sessionID, IsActive: true, IsLivestreaming: true, ProducerID: strPtr("live"),
	}
	st.On("JoinSession", mock.Anything, sessionID, "Bob", false).Return(student, session, nil)
	st.On("ListMessages", mock.Anything, sessionID).Return([]models.Message{}, nil)

	_, joined, _, err := ctrl.JoinSession(context.Background(), sessionID, "Bob", false)
	require.NoError(t, err)

	assert.True(t, joined.IsLivestreaming)
	bridge.AssertNotCalled(t, "CloseProducer", mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "StopLivestream", mock.Anything, mock.Anything)
}

func TestJoinSessionRejectsEmptyName(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, _, _ := newTestController(st, bridge)

	_, _, _, err := ctrl.JoinSession(context.Background(), uuid.New(), "", false)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestSendMessageDefaultsTimestamp(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, userID := uuid.New(), uuid.New()
	var seenTs time.Time
	st.On("AddMessage", mock.Anything, sessionID, userID, "hello", false, mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { seenTs = args.Get(5).(time.Time) }).
		Return(&models.Message{ID: uuid.New(), UserID: userID, Content: "hello"}, nil)

	_, err := ctrl.SendMessage(context.Background(), sessionID, userID, "hello", false, time.Time{})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), seenTs, 5*time.Second)
	assert.Equal(t, []string{events.NewMessage}, rooms.names())
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, _, _ := newTestController(st, bridge)

	_, err := ctrl.SendMessage(context.Background(), uuid.New(), uuid.New(), "", false, time.Time{})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestMarkQuestionAnsweredPropagatesNotFound(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, messageID := uuid.New(), uuid.New()
	st.On("MarkQuestionAnswered", mock.Anything, sessionID, messageID).Return(store.ErrNotFound)

	err := ctrl.MarkQuestionAnswered(context.Background(), sessionID, messageID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, rooms.names())
}

func TestProduceRecordsHandleAfterBridgeConfirms(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, userID := uuid.New(), uuid.New()
	rtp := json.RawMessage(`{"codecs":[]}`)
	bridge.On("Produce", mock.Anything, "t-1", "video", rtp).Return("prod-new", nil)
	st.On("SetProducer", mock.Anything, sessionID, "prod-new").Return(nil)

	id, err := ctrl.Produce(context.Background(), sessionID, userID, "t-1", "video", rtp, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "prod-new", id)

	require.Len(t, rooms.events, 1)
	assert.Equal(t, events.NewProducer, rooms.events[0].Event)
	assert.Equal(t, "conn-1", rooms.events[0].Except)
}

func TestProduceBridgeFailureLeavesStoreUntouched(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	bridge.On("Produce", mock.Anything, "t-1", "video", mock.Anything).Return("", assert.AnError)

	_, err := ctrl.Produce(context.Background(), uuid.New(), uuid.New(), "t-1", "video", json.RawMessage(`{}`), "")
	require.Error(t, err)
	st.AssertNotCalled(t, "SetProducer", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, rooms.names())
}

func TestRaiseHandNamedIncludesUserName(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, userID := uuid.New(), uuid.New()
	st.On("GetUser", mock.Anything, userID).Return(&models.User{ID: userID, Name: "Bob"}, nil)
	st.On("SetHandRaised", mock.Anything, userID, true).Return(nil)

	require.NoError(t, ctrl.RaiseHandNamed(context.Background(), sessionID, userID, true))

	require.Len(t, rooms.events, 1)
	assert.Equal(t, events.HandRaiseChanged, rooms.events[0].Event)
	payload, ok := rooms.events[0].Payload.(events.HandRaisePayload)
	require.True(t, ok)
	assert.Equal(t, "Bob", payload.UserName)
	assert.True(t, payload.IsRaised)
}

func TestAnnounceLivestreamToClientOnlyWhenStreaming(t *testing.T) {
	st := new(mockStore)
	bridge := new(mockBridge)
	ctrl, rooms, _ := newTestController(st, bridge)

	sessionID, teacherID := uuid.New(), uuid.New()
	st.On("GetSession", mock.Anything, sessionID).Return(&models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true, IsLivestreaming: false,
	}, nil)

	ctrl.AnnounceLivestreamToClient(context.Background(), sessionID, "conn-1")
	assert.Empty(t, rooms.names())

	streaming := new(mockStore)
	ctrl2, rooms2, _ := newTestController(streaming, bridge)
	streaming.On("GetSession", mock.Anything, sessionID).Return(&models.Session{
		ID: sessionID, TeacherID: teacherID, IsActive: true, IsLivestreaming: true,
	}, nil)
	streaming.On("GetUser", mock.Anything, teacherID).Return(&models.User{ID: teacherID, Name: "Ms. Lee", IsTeacher: true}, nil)

	ctrl2.AnnounceLivestreamToClient(context.Background(), sessionID, "conn-1")
	require.Len(t, rooms2.events, 1)
	assert.Equal(t, events.LivestreamActive, rooms2.events[0].Event)
	assert.Equal(t, "conn-1", rooms2.events[0].ToClient)
}
