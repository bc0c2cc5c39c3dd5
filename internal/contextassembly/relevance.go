package contextassembly

import (
	"sort"
	"strings"

	"github.com/relaycore/agentcore/pkg/models"
)

// tokenize lowercases and splits on whitespace/punctuation, matching the
// keyword granularity a tag-overlap scorer needs without pulling in a full
// text-processing dependency.
func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if field != "" {
			tokens[field] = struct{}{}
		}
	}
	return tokens
}

// Score returns a deterministic relevance score for a memory item against a
// query: the fraction of the query's tokens found among the item's tags and
// content tokens, weighted by the item's own importance. This
// trades recall precision for being fully testable without a network call
// to an embedding model.
func Score(item models.MemoryItem, query string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return item.Importance
	}

	itemTokens := tokenize(item.Content)
	for _, tag := range item.Tags {
		itemTokens[strings.ToLower(tag)] = struct{}{}
	}
	if len(itemTokens) == 0 {
		return 0
	}

	overlap := 0
	for tok := range queryTokens {
		if _, ok := itemTokens[tok]; ok {
			overlap++
		}
	}
	overlapRatio := float64(overlap) / float64(len(queryTokens))
	return overlapRatio * (0.5 + 0.5*item.Importance)
}

// RankByRelevance sorts items by descending Score against query and
// truncates to limit (0 means no truncation).
func RankByRelevance(items []models.MemoryItem, query string, limit int) []models.MemoryItem {
	ranked := append([]models.MemoryItem(nil), items...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Score(ranked[i], query) > Score(ranked[j], query)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
