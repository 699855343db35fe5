package pipeline

import (
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// match is an accepted recognition of one segment.
type match struct {
	window media.Window
	cand   *models.TrackCandidate
}

// acceptMatches keeps, in segment order, the results that are confident
// enough and carry a catalog key. results is indexed like segments.
func acceptMatches(segments []media.Segment, results []*models.TrackCandidate, threshold float64) []match {
	var out []match
	for i, c := range results {
		if c == nil || c.Confidence < threshold || !c.HasForeignKey() {
			continue
		}
		out = append(out, match{window: segments[i].Window, cand: c})
	}
	return out
}

// buildTracklist turns ordered matches into set positions. With merge set,
// consecutive matches of the same track collapse into one entry spanning
// all of them, unmatched segments in between included.
func buildTracklist(matches []match, merge bool) []store.TrackPlacement {
	var out []store.TrackPlacement
	for _, m := range matches {
		start := int(m.window.Start.Seconds())
		end := int(m.window.End().Seconds())
		if merge && len(out) > 0 && out[len(out)-1].Candidate.SameTrack(m.cand) {
			out[len(out)-1].EndTime = end
			continue
		}
		out = append(out, store.TrackPlacement{Candidate: m.cand, StartTime: start, EndTime: end})
	}
	return out
}

// distinctCandidates groups matches by track identity. Every match is
// pointed at its group's first candidate so enrichment applies once.
func distinctCandidates(matches []match) []*models.TrackCandidate {
	byKey := make(map[string]*models.TrackCandidate)
	var out []*models.TrackCandidate
	for i := range matches {
		c := matches[i].cand
		var canon *models.TrackCandidate
		for _, key := range identityKeys(c) {
			if found, ok := byKey[key]; ok {
				canon = found
				break
			}
		}
		if canon == nil {
			canon = c
			out = append(out, c)
		} else {
			if canon.KeyTrackShazam == "" {
				canon.KeyTrackShazam = c.KeyTrackShazam
			}
			if canon.KeyTrackSpotify == "" {
				canon.KeyTrackSpotify = c.KeyTrackSpotify
			}
		}
		for _, key := range identityKeys(c) {
			if _, ok := byKey[key]; !ok {
				byKey[key] = canon
			}
		}
		matches[i].cand = canon
	}
	return out
}

func identityKeys(c *models.TrackCandidate) []string {
	var keys []string
	if c.KeyTrackShazam != "" {
		keys = append(keys, "shazam:"+c.KeyTrackShazam)
	}
	if c.KeyTrackSpotify != "" {
		keys = append(keys, "spotify:"+c.KeyTrackSpotify)
	}
	return keys
}
