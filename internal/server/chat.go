package server

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/stats"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
)

// ChatChannel carries the conversation between the two participants of a
// consultation. It does not depend on a call being in progress.
type ChatChannel struct {
	hub *Hub
	log zerolog.Logger
}

func newChatChannel(h *Hub) *ChatChannel {
	return &ChatChannel{
		hub: h,
		log: h.log.With().Str("module", "chat").Logger(),
	}
}

// Send persists a message from the sender to the other participant and pushes
// it to the peer if they are connected. The stored message is returned.
func (ch *ChatChannel) Send(ctx context.Context, from types.Identity, consultationId, text string) (types.ChatMessage, error) {
	text, err := validateText(text, ch.hub.opts.MaxTextLength)
	if err != nil {
		return types.ChatMessage{}, err
	}

	participants, _, err := ch.hub.authorize(ctx, from, consultationId)
	if err != nil {
		return types.ChatMessage{}, err
	}

	enabled, err := ch.chatEnabled(ctx, consultationId)
	if err != nil {
		return types.ChatMessage{}, dependencyError(err)
	}
	if !enabled {
		return types.ChatMessage{}, newError(ErrForbidden, "chat is not enabled for this consultation", nil)
	}

	peer, _ := participants.Other(from.UserId)

	persistCtx, cancel := context.WithTimeout(ctx, ch.hub.opts.DependencyTimeout)
	defer cancel()

	msg, err := ch.hub.repo.CreateChatMessage(persistCtx, types.ChatMessage{
		ConsultationId: consultationId,
		FromId:         from.UserId,
		ToId:           peer.Id,
		Text:           text,
		CreatedAt:      Now(),
	})
	if err != nil {
		ch.log.Error().Err(err).Str("consultation", consultationId).Msg("failed to persist chat message")
		return types.ChatMessage{}, storeError(err)
	}

	ch.hub.stats.Incr(stats.ChatMessages)

	if c := ch.hub.registry.lookup(peer.Id); c != nil {
		c.queueMessage(chatMessage(0, msg))
	} else {
		ch.log.Debug().Str("consultation", consultationId).Str("to", peer.Id).Msg("peer offline, message left for history")
	}

	return msg, nil
}

// History returns persisted messages for either participant.
func (ch *ChatChannel) History(ctx context.Context, who types.Identity, consultationId string, before int64, limit int) ([]types.ChatMessage, error) {
	if _, _, err := ch.hub.authorize(ctx, who, consultationId); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ch.hub.opts.DependencyTimeout)
	defer cancel()

	msgs, err := ch.hub.repo.GetChatHistory(ctx, consultationId, before, database.NormalizeLimit(limit))
	if err != nil {
		return nil, storeError(err)
	}

	return msgs, nil
}

func (ch *ChatChannel) chatEnabled(ctx context.Context, consultationId string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, ch.hub.opts.DependencyTimeout)
	defer cancel()

	return ch.hub.records.ChatEnabled(ctx, consultationId)
}

func validateText(text string, max int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", validationError("text must not be empty")
	}
	if utf8.RuneCountInString(text) > max {
		return "", validationError("text is too long")
	}

	return text, nil
}
