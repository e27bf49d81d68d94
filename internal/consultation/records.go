package consultation

import (
	"context"
	"errors"

	"github.com/npezzotti/go-consult/internal/types"
)

var ErrNotFound = errors.New("consultation not found")

// Records is the read side of the consultation-record service plus the one
// write the coordinator owes it: telling it a call finished.
type Records interface {
	Participants(ctx context.Context, consultationId string) (types.Participants, error)
	// ChatEnabled reports the current chat gate for the consultation. It is
	// stateful on the records side and must not be cached.
	ChatEnabled(ctx context.Context, consultationId string) (bool, error)
	MarkEnded(ctx context.Context, consultationId string, summary types.CallSummary) error
}
