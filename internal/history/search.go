package history

import (
	"sort"

	"github.com/sahilm/fuzzy"
)

// Match is a search hit. MatchedIndexes are byte offsets into
// Entry.Command for highlighting.
type Match struct {
	Entry
	Score          int   `json:"score"`
	MatchedIndexes []int `json:"matched_indexes,omitempty"`
}

// commandSource implements fuzzy.Source over entry commands.
type commandSource []Entry

func (c commandSource) String(i int) string { return c[i].Command }
func (c commandSource) Len() int            { return len(c) }

// Unique drops repeated commands, keeping the first (newest) occurrence.
func Unique(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if seen[e.Command] {
			continue
		}
		seen[e.Command] = true
		out = append(out, e)
	}
	return out
}

// Search fuzzy-matches query against stored commands. Each command appears
// once, newest first. An empty query lists recent distinct commands.
func (s *Store) Search(query string, limit int) ([]Match, error) {
	all, err := s.Recent(0)
	if err != nil {
		return nil, err
	}
	return Filter(Unique(all), query, limit), nil
}

// Filter fuzzy-matches query against entries, which must be newest first,
// and keeps that order. limit <= 0 means no limit.
func Filter(entries []Entry, query string, limit int) []Match {
	var out []Match
	if query == "" {
		for _, e := range entries {
			out = append(out, Match{Entry: e})
		}
		return truncate(out, limit)
	}

	matches := fuzzy.FindFrom(query, commandSource(entries))
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Index < matches[j].Index
	})
	for _, m := range matches {
		out = append(out, Match{
			Entry:          entries[m.Index],
			Score:          m.Score,
			MatchedIndexes: m.MatchedIndexes,
		})
	}
	return truncate(out, limit)
}

func truncate(m []Match, limit int) []Match {
	if limit > 0 && len(m) > limit {
		return m[:limit]
	}
	return m
}
