package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/npezzotti/go-consult/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signal(kind SignalKind, payload string) *SignalEnvelope {
	return &SignalEnvelope{RoomId: "C1", Kind: kind, Payload: json.RawMessage(payload)}
}

func TestRelay(t *testing.T) {
	t.Run("offer and answer reach the peer", func(t *testing.T) {
		h := newTestHub(t, newRecords(), &database.MockRepository{}, testOptions())
		p, d := joinBoth(t, h)

		require.NoError(t, h.Relay(context.Background(), d, 1, signal(SignalOffer, `{"sdp":"offer"}`)))
		msg := expectMessage(t, p, TypeSignalOffer)
		assert.Equal(t, doctor.Id, msg.From)
		assert.Equal(t, "C1", msg.RoomId)
		assert.JSONEq(t, `{"sdp":"offer"}`, string(msg.Payload))

		require.NoError(t, h.Relay(context.Background(), p, 2, signal(SignalAnswer, `{"sdp":"answer"}`)))
		msg = expectMessage(t, d, TypeSignalAnswer)
		assert.Equal(t, patient.Id, msg.From)
		assert.JSONEq(t, `{"sdp":"answer"}`, string(msg.Payload))
	})

	t.Run("envelopes keep sender order", func(t *testing.T) {
		h := newTestHub(t, newRecords(), &database.MockRepository{}, testOptions())
		p, d := joinBoth(t, h)

		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalOffer, `"o"`)))
		for i := range 20 {
			require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalIceCandidate, fmt.Sprintf(`%d`, i))))
		}

		expectMessage(t, p, TypeSignalOffer)
		for i := range 20 {
			msg := expectMessage(t, p, TypeSignalIce)
			assert.Equal(t, fmt.Sprintf(`%d`, i), string(msg.Payload))
		}
	})

	t.Run("candidates wait for the description", func(t *testing.T) {
		h := newTestHub(t, newRecords(), &database.MockRepository{}, testOptions())
		p, d := joinBoth(t, h)

		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalIceCandidate, `"c1"`)))
		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalIceCandidate, `"c2"`)))
		expectNoMessage(t, p)

		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalOffer, `"o"`)))
		expectMessage(t, p, TypeSignalOffer)
		assert.Equal(t, `"c1"`, string(expectMessage(t, p, TypeSignalIce).Payload))
		assert.Equal(t, `"c2"`, string(expectMessage(t, p, TypeSignalIce).Payload))
	})

	t.Run("candidate buffer is bounded", func(t *testing.T) {
		opts := testOptions()
		opts.IceBufferSize = 2
		h := newTestHub(t, newRecords(), &database.MockRepository{}, opts)
		p, d := joinBoth(t, h)

		for i := range 3 {
			require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalIceCandidate, fmt.Sprintf(`%d`, i))))
		}
		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalOffer, `"o"`)))

		expectMessage(t, p, TypeSignalOffer)
		assert.Equal(t, `0`, string(expectMessage(t, p, TypeSignalIce).Payload))
		assert.Equal(t, `1`, string(expectMessage(t, p, TypeSignalIce).Payload))
		expectNoMessage(t, p)
	})

	t.Run("peer offline drops silently", func(t *testing.T) {
		h := newTestHub(t, newRecords(), &database.MockRepository{}, testOptions())
		p := newTestClient(t, h, patient)
		_, err := h.Join(context.Background(), p, 1, "C1")
		require.NoError(t, err)
		expectMessage(t, p, TypeJoinedRoom)

		require.NoError(t, h.Relay(context.Background(), p, 2, signal(SignalOffer, `"o"`)))
		require.NoError(t, h.Relay(context.Background(), p, 3, signal(SignalIceCandidate, `"c"`)))
		expectNoMessage(t, p)
	})

	t.Run("membership change resets negotiation", func(t *testing.T) {
		h := newTestHub(t, newRecords(), &database.MockRepository{}, testOptions())
		p, d := joinBoth(t, h)

		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalOffer, `"o"`)))
		expectMessage(t, p, TypeSignalOffer)

		require.NoError(t, h.Leave(context.Background(), p, 1, "C1"))
		expectMessage(t, p, TypeLeftRoom)
		expectMessage(t, d, TypePeerLeft)
		_, err := h.Join(context.Background(), p, 2, "C1")
		require.NoError(t, err)
		expectMessage(t, p, TypeJoinedRoom)
		expectMessage(t, d, TypePeerJoined)

		// candidates from the previous negotiation are held again
		require.NoError(t, h.Relay(context.Background(), d, 0, signal(SignalIceCandidate, `"stale"`)))
		expectNoMessage(t, p)
	})

	t.Run("sender outside the room", func(t *testing.T) {
		h := newTestHub(t, newRecords(), &database.MockRepository{}, testOptions())
		p := newTestClient(t, h, patient)

		err := h.Relay(context.Background(), p, 1, signal(SignalOffer, `"o"`))
		assertError(t, err, CodeNotFound)
	})
}

func TestSignalState(t *testing.T) {
	s := newSignalState(1)

	assert.True(t, s.buffer(&SignalEnvelope{SenderId: "a"}))
	assert.False(t, s.buffer(&SignalEnvelope{SenderId: "a"}))
	assert.True(t, s.buffer(&SignalEnvelope{SenderId: "b"}))

	assert.Len(t, s.take("a"), 1)
	assert.Empty(t, s.take("a"))

	s.described["b"] = true
	s.reset()
	assert.Empty(t, s.described)
	assert.Empty(t, s.take("b"))
}
