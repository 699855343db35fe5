package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
)

func segmentsFor(n int) []media.Segment {
	windows := media.PlanWindows(time.Duration(n)*10*time.Second, 10*time.Second)
	segs := make([]media.Segment, len(windows))
	for i, w := range windows {
		segs[i] = media.Segment{Window: w}
	}
	return segs
}

func TestAcceptMatches(t *testing.T) {
	segs := segmentsFor(4)
	results := []*models.TrackCandidate{
		{KeyTrackShazam: "1", Confidence: 95},
		nil,
		{KeyTrackShazam: "2", Confidence: 79.9},
		{Title: "no key", Confidence: 100},
	}

	got := acceptMatches(segs, results, 80)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].cand.KeyTrackShazam)
	assert.Equal(t, 0, got[0].window.Index)

	assert.Len(t, acceptMatches(segs, results, 0), 2, "threshold 0 keeps every keyed match")
}

func TestBuildTracklist(t *testing.T) {
	segs := segmentsFor(6)
	a := &models.TrackCandidate{KeyTrackShazam: "a"}
	aSpotify := &models.TrackCandidate{KeyTrackShazam: "a", KeyTrackSpotify: "sa"}
	b := &models.TrackCandidate{KeyTrackSpotify: "sb"}
	matches := []match{
		{window: segs[0].Window, cand: a},
		{window: segs[1].Window, cand: aSpotify},
		{window: segs[3].Window, cand: b},
		{window: segs[5].Window, cand: a},
	}

	testCases := []struct {
		name  string
		merge bool
		want  [][2]int
	}{
		{"merged", true, [][2]int{{0, 20}, {30, 40}, {50, 60}}},
		{"one entry per segment", false, [][2]int{{0, 10}, {10, 20}, {30, 40}, {50, 60}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildTracklist(matches, tc.merge)
			require.Len(t, got, len(tc.want))
			for i, w := range tc.want {
				if got[i].StartTime != w[0] || got[i].EndTime != w[1] {
					t.Errorf("entry %d: got %d-%d, want %d-%d", i, got[i].StartTime, got[i].EndTime, w[0], w[1])
				}
			}
		})
	}
}

func TestDistinctCandidates(t *testing.T) {
	segs := segmentsFor(4)
	first := &models.TrackCandidate{KeyTrackShazam: "a", Title: "first"}
	second := &models.TrackCandidate{KeyTrackShazam: "a", KeyTrackSpotify: "sa"}
	bySpotify := &models.TrackCandidate{KeyTrackSpotify: "sa"}
	other := &models.TrackCandidate{KeyTrackShazam: "b"}
	matches := []match{
		{window: segs[0].Window, cand: first},
		{window: segs[1].Window, cand: second},
		{window: segs[2].Window, cand: bySpotify},
		{window: segs[3].Window, cand: other},
	}

	distinct := distinctCandidates(matches)
	require.Len(t, distinct, 2)
	assert.Same(t, first, distinct[0])
	assert.Equal(t, "sa", first.KeyTrackSpotify, "canonical candidate picks up keys seen later")
	assert.Same(t, first, matches[1].cand)
	assert.Same(t, first, matches[2].cand)
	assert.Same(t, other, matches[3].cand)
}
