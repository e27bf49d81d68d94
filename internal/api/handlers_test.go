package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-consult/internal/auth"
	"github.com/npezzotti/go-consult/internal/consultation"
	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/server"
	"github.com/npezzotti/go-consult/internal/stats"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	patient = types.Participant{Id: "p1", Role: types.RolePatient, Name: "Pat"}
	doctor  = types.Participant{Id: "d1", Role: types.RoleDoctor, Name: "Dr. Dee"}
)

type testEnv struct {
	srv      *httptest.Server
	verifier *auth.Verifier
	records  *consultation.MockRecords
	repo     *database.MockRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	records := &consultation.MockRecords{}
	records.On("Participants", mock.Anything, "C1").Return(types.Participants{
		ConsultationId: "C1",
		Patient:        patient,
		Doctor:         doctor,
		ChatEnabled:    true,
	}, nil)
	repo := &database.MockRepository{}

	// connection goroutines may outlive the test, so they do not log to it
	logger := zerolog.Nop()

	hub, err := server.NewHub(logger, records, repo, stats.NewMockStatsUpdater(), server.DefaultOptions())
	require.NoError(t, err)

	cfg := testConfig()
	verifier := auth.NewVerifier(cfg.SigningKey)
	app := NewApp(http.NewServeMux(), logger, hub, verifier, repo, cfg)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{srv: srv, verifier: verifier, records: records, repo: repo}
}

func (e *testEnv) dial(t *testing.T, p types.Participant) *websocket.Conn {
	t.Helper()

	token, err := e.verifier.Issue(p.Identity(), time.Minute)
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?access_token=" + url.QueryEscape(token)
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg server.ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func receive(t *testing.T, conn *websocket.Conn, msgType string) server.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg server.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, msgType, msg.Type, "unexpected message: %+v", msg)
	return msg
}

func TestServeWs_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWs_Consultation(t *testing.T) {
	env := newTestEnv(t)
	stored := types.ChatMessage{Id: 1, ConsultationId: "C1", FromId: patient.Id, ToId: doctor.Id, Text: "hello", CreatedAt: server.Now()}
	env.records.On("ChatEnabled", mock.Anything, "C1").Return(true, nil)
	env.repo.On("CreateChatMessage", mock.Anything, mock.MatchedBy(func(m types.ChatMessage) bool {
		return m.FromId == patient.Id && m.ToId == doctor.Id && m.Text == "hello"
	})).Return(stored, nil)

	p := env.dial(t, patient)
	d := env.dial(t, doctor)

	send(t, p, server.ClientMessage{Id: 1, Type: server.TypeJoinRoom, ConsultationId: "C1"})
	msg := receive(t, p, server.TypeJoinedRoom)
	assert.Equal(t, types.RoomWaiting, msg.Room.State)

	send(t, d, server.ClientMessage{Id: 1, Type: server.TypeJoinRoom, ConsultationId: "C1"})
	msg = receive(t, d, server.TypeJoinedRoom)
	assert.Equal(t, types.RoomActive, msg.Room.State)
	assert.True(t, *msg.Initiator)

	msg = receive(t, p, server.TypePeerJoined)
	assert.Equal(t, doctor.Id, msg.Identity.UserId)

	send(t, d, server.ClientMessage{Id: 2, Type: server.TypeSignalOffer, RoomId: "C1", Payload: []byte(`{"sdp":"o"}`)})
	msg = receive(t, p, server.TypeSignalOffer)
	assert.Equal(t, doctor.Id, msg.From)
	assert.JSONEq(t, `{"sdp":"o"}`, string(msg.Payload))

	send(t, p, server.ClientMessage{Id: 2, Type: server.TypeSignalAnswer, RoomId: "C1", Payload: []byte(`{"sdp":"a"}`)})
	msg = receive(t, d, server.TypeSignalAnswer)
	assert.Equal(t, patient.Id, msg.From)

	send(t, p, server.ClientMessage{Id: 3, Type: server.TypeChatMessage, ConsultationId: "C1", Text: "hello"})
	assert.Equal(t, 3, receive(t, p, server.TypeChatMessage).Id)
	msg = receive(t, d, server.TypeChatMessage)
	assert.Equal(t, "hello", msg.Message.Text)
	assert.Equal(t, patient.Id, msg.Message.FromId)

	x := env.dial(t, types.Participant{Id: "x", Role: types.RoleDoctor})
	send(t, x, server.ClientMessage{Id: 1, Type: server.TypeJoinRoom, ConsultationId: "C1"})
	msg = receive(t, x, server.TypeError)
	assert.Equal(t, server.CodeForbidden, msg.Error.Code)
}

func TestServeWs_Supersede(t *testing.T) {
	env := newTestEnv(t)

	old := env.dial(t, patient)
	send(t, old, server.ClientMessage{Id: 1, Type: server.TypeJoinRoom, ConsultationId: "C1"})
	receive(t, old, server.TypeJoinedRoom)

	fresh := env.dial(t, patient)
	receive(t, old, server.TypeSuperseded)

	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := old.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 4001, closeErr.Code)

	send(t, fresh, server.ClientMessage{Id: 1, Type: server.TypeJoinRoom, ConsultationId: "C1"})
	msg := receive(t, fresh, server.TypeJoinedRoom)
	assert.Len(t, msg.Room.Members, 1)
}
