package server

import (
	"context"

	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/stats"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
)

// NotesChannel is the shared annotation log of a consultation. Notes are
// visible to both participants and are never gated.
type NotesChannel struct {
	hub *Hub
	log zerolog.Logger
}

func newNotesChannel(h *Hub) *NotesChannel {
	return &NotesChannel{
		hub: h,
		log: h.log.With().Str("module", "notes").Logger(),
	}
}

func (n *NotesChannel) Add(ctx context.Context, author types.Identity, consultationId, text string) (types.Note, error) {
	text, err := validateText(text, n.hub.opts.MaxTextLength)
	if err != nil {
		return types.Note{}, err
	}

	participants, _, err := n.hub.authorize(ctx, author, consultationId)
	if err != nil {
		return types.Note{}, err
	}

	persistCtx, cancel := context.WithTimeout(ctx, n.hub.opts.DependencyTimeout)
	defer cancel()

	note, err := n.hub.repo.CreateNote(persistCtx, types.Note{
		ConsultationId: consultationId,
		AuthorId:       author.UserId,
		Text:           text,
		Timestamp:      Now(),
	})
	if err != nil {
		n.log.Error().Err(err).Str("consultation", consultationId).Msg("failed to persist note")
		return types.Note{}, storeError(err)
	}

	n.hub.stats.Incr(stats.Notes)

	if peer, ok := participants.Other(author.UserId); ok {
		if c := n.hub.registry.lookup(peer.Id); c != nil {
			c.queueMessage(noteAdded(0, note))
		}
	}

	return note, nil
}

func (n *NotesChannel) List(ctx context.Context, who types.Identity, consultationId string, before int64, limit int) ([]types.Note, error) {
	if _, _, err := n.hub.authorize(ctx, who, consultationId); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.hub.opts.DependencyTimeout)
	defer cancel()

	notes, err := n.hub.repo.GetNotes(ctx, consultationId, before, database.NormalizeLimit(limit))
	if err != nil {
		return nil, storeError(err)
	}

	return notes, nil
}
