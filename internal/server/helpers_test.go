package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-consult/internal/consultation"
	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/stats"
	"github.com/npezzotti/go-consult/internal/testutil"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	patient = types.Participant{Id: "p1", Role: types.RolePatient, Name: "Pat", Profile: map[string]any{"age": float64(41)}}
	doctor  = types.Participant{Id: "d1", Role: types.RoleDoctor, Name: "Dr. Dee", Profile: map[string]any{"specialty": "cardiology"}}

	participantsC1 = types.Participants{ConsultationId: "C1", Patient: patient, Doctor: doctor, ChatEnabled: true}
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.GracePeriod = time.Second
	opts.DependencyTimeout = 100 * time.Millisecond
	opts.MarkEndedAttempts = 2
	return opts
}

func newTestHub(t *testing.T, records consultation.Records, repo database.Repository, opts Options) *Hub {
	t.Helper()

	h, err := NewHub(testutil.TestLogger(t), records, repo, stats.NewMockStatsUpdater(), opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.Shutdown(ctx))
	})

	return h
}

// newRecords returns a records mock that knows consultation C1.
func newRecords() *consultation.MockRecords {
	records := &consultation.MockRecords{}
	records.On("Participants", mock.Anything, "C1").Return(participantsC1, nil).Maybe()
	return records
}

func newTestClient(t *testing.T, h *Hub, p types.Participant) *Client {
	t.Helper()
	return NewClient(p.Identity(), nil, h, testutil.TestLogger(t), DefaultClientOptions())
}

func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timeout: no message for %s", c.identity.UserId)
	}

	return nil
}

func expectMessage(t *testing.T, c *Client, msgType string) *ServerMessage {
	t.Helper()

	msg := nextMessage(t, c)
	require.Equalf(t, msgType, msg.Type, "unexpected message for %s: %+v", c.identity.UserId, msg)
	return msg
}

func expectNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message for %s: %+v", c.identity.UserId, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// joinBoth puts patient and doctor in C1 and consumes the join traffic.
func joinBoth(t *testing.T, h *Hub) (*Client, *Client) {
	t.Helper()

	p := newTestClient(t, h, patient)
	d := newTestClient(t, h, doctor)
	require.NoError(t, h.Register(p))
	require.NoError(t, h.Register(d))

	_, err := h.Join(context.Background(), p, 1, "C1")
	require.NoError(t, err)
	expectMessage(t, p, TypeJoinedRoom)

	_, err = h.Join(context.Background(), d, 1, "C1")
	require.NoError(t, err)
	expectMessage(t, d, TypeJoinedRoom)
	expectMessage(t, p, TypePeerJoined)

	return p, d
}

func assertError(t *testing.T, err error, code ErrorCode) {
	t.Helper()

	require.Error(t, err)
	require.Equal(t, code, AsError(err).Code, "unexpected error: %v", err)
}
