// Package recognition defines the fingerprint recognition boundary.
package recognition

import (
	"context"

	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
)

// Recognizer identifies the track playing in an audio segment. A nil
// candidate with a nil error means nothing was recognized.
type Recognizer interface {
	Recognize(ctx context.Context, seg media.Segment) (*models.TrackCandidate, error)
}

// Func adapts a function to the Recognizer interface.
type Func func(ctx context.Context, seg media.Segment) (*models.TrackCandidate, error)

func (f Func) Recognize(ctx context.Context, seg media.Segment) (*models.TrackCandidate, error) {
	return f(ctx, seg)
}
