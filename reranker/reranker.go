// Package reranker contains the precision-stage building blocks shared by the
// concrete backends (see the anthropic and httpapi subpackages). Rerankers
// score (query, candidate) pairs; the retrieval façade reorders the ANN recall
// pool by those scores and falls back to vector ordering when the reranker is
// unavailable.
package reranker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildJudgePrompt renders the relevance-judging prompt used by LLM-backed
// rerankers. The model is asked for one score per numbered document so the
// response parses back into an index-aligned slice.
func BuildJudgePrompt(query string, documents []string) string {
	var b strings.Builder
	b.WriteString("Score how relevant each document is to the query on a 0.0 to 1.0 scale.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\nDocuments:\n", query)
	for i, doc := range documents {
		fmt.Fprintf(&b, "[%d] %s\n", i, doc)
	}
	fmt.Fprintf(&b, "\nRespond with a JSON array of %d numbers, one score per document in order, and nothing else.", len(documents))
	return b.String()
}

// ParseJudgeScores extracts the score array from an LLM response. Surrounding
// prose and code fences are tolerated; the array length must match n.
func ParseJudgeScores(response string, n int) ([]float64, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in reranker response")
	}
	var scores []float64
	if err := json.Unmarshal([]byte(response[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("parse reranker scores: %w", err)
	}
	if len(scores) != n {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(scores), n)
	}
	return scores, nil
}
