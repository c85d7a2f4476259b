package reranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJudgePrompt(t *testing.T) {
	p := BuildJudgePrompt("find BTC pairs", []string{"doc a", "doc b"})
	assert.Contains(t, p, "Query: find BTC pairs")
	assert.Contains(t, p, "[0] doc a")
	assert.Contains(t, p, "[1] doc b")
	assert.Contains(t, p, "JSON array of 2 numbers")
}

func TestParseJudgeScores(t *testing.T) {
	tests := []struct {
		name     string
		response string
		n        int
		want     []float64
		wantErr  bool
	}{
		{name: "bare array", response: "[0.9, 0.1, 0.5]", n: 3, want: []float64{0.9, 0.1, 0.5}},
		{name: "fenced array", response: "```json\n[1, 0]\n```", n: 2, want: []float64{1, 0}},
		{name: "prose around array", response: "Here you go: [0.3] hope that helps", n: 1, want: []float64{0.3}},
		{name: "length mismatch", response: "[0.5]", n: 2, wantErr: true},
		{name: "no array", response: "cannot comply", n: 1, wantErr: true},
		{name: "malformed", response: "[0.5, oops]", n: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJudgeScores(tt.response, tt.n)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
