package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/cadenza-player/cadenza/pkg/types"
)

type scoredTrack struct {
	Track *types.Track
	Score float64
}

// FilterTracks returns the tracks matching query, best matches first.
// Title matches weigh most, then artist, then album; near-misses score by
// Levenshtein distance.
func FilterTracks(tracks []*types.Track, query string) []*types.Track {
	if query == "" {
		return tracks
	}

	var scored []scoredTrack
	queryLower := strings.ToLower(query)

	for _, track := range tracks {
		if track == nil {
			continue
		}

		score := 0.0
		titleLower := strings.ToLower(track.Title)

		if strings.Contains(titleLower, queryLower) {
			score += 10.0
		}

		distance := fuzzy.LevenshteinDistance(queryLower, titleLower)
		if distance <= len(queryLower)/2 {
			score += float64(len(queryLower) - distance)
		}

		for _, artist := range track.Artists {
			if strings.Contains(strings.ToLower(artist.Name), queryLower) {
				score += 7.0
			}
		}

		if track.Album != nil {
			if strings.Contains(strings.ToLower(track.Album.Title), queryLower) {
				score += 5.0
			}
		}

		if score > 0 {
			scored = append(scored, scoredTrack{Track: track, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	result := make([]*types.Track, 0, len(scored))
	for _, s := range scored {
		result = append(result, s.Track)
	}

	return result
}
