// Package enrichment defines the metadata enrichment boundary. Enrichment is
// best effort: callers keep the recognition data when it fails.
package enrichment

import (
	"context"

	"github.com/vrsandeep/setlist-go/internal/models"
)

// Enricher looks up additional metadata for a recognized track. A nil
// enrichment with a nil error means the provider does not know the track.
type Enricher interface {
	Enrich(ctx context.Context, c *models.TrackCandidate) (*models.Enrichment, error)
}

// Noop is used when no metadata provider is configured.
type Noop struct{}

func (Noop) Enrich(ctx context.Context, c *models.TrackCandidate) (*models.Enrichment, error) {
	return nil, nil
}
