package council

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/redwing-381/mirmer.ai/internal/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymize_LabelsInInputOrder(t *testing.T) {
	in := []Stage1Result{
		{Model: "x/m1", Response: "one"},
		{Model: "x/m2", Response: "two"},
		{Model: "x/m3", Response: "three"},
	}

	text, labels := Anonymize(in)

	assert.Equal(t, map[Label]completion.ModelID{
		"Response A": "x/m1",
		"Response B": "x/m2",
		"Response C": "x/m3",
	}, labels)
	assert.Equal(t, "Response A:\none\n\nResponse B:\ntwo\n\nResponse C:\nthree\n", text)
	assert.NotContains(t, text, "x/m1")
}

func TestAnonymize_Bijection(t *testing.T) {
	in := make([]Stage1Result, MaxModels)
	for i := range in {
		in[i] = Stage1Result{Model: completion.ModelID(string(rune('a' + i))), Response: "r"}
	}
	_, labels := Anonymize(in)
	require.Len(t, labels, MaxModels)

	seen := map[completion.ModelID]bool{}
	for _, m := range labels {
		assert.False(t, seen[m])
		seen[m] = true
	}
	assert.Equal(t, completion.ModelID("z"), labels["Response Z"])
}

func TestAnonymize_Empty(t *testing.T) {
	text, labels := Anonymize(nil)
	assert.Empty(t, text)
	assert.Empty(t, labels)
}

func TestParseRanking(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Label
	}{
		{
			name: "final ranking section",
			text: "Some analysis.\n\nFINAL RANKING:\n1. Response B\n2. Response A\n",
			want: []Label{"Response B", "Response A"},
		},
		{
			name: "section wins over earlier mentions",
			text: "Response A is great, Response C is weak.\nFINAL RANKING:\n1. Response C\n2. Response B\n3. Response A",
			want: []Label{"Response C", "Response B", "Response A"},
		},
		{
			name: "case insensitive heading and letters",
			text: "final ranking:\n1. response b\n2. Response a\n",
			want: []Label{"Response B", "Response A"},
		},
		{
			name: "fallback scan dedupes in first-occurrence order",
			text: "...Response C is better than Response A... but Response C lacks detail",
			want: []Label{"Response C", "Response A"},
		},
		{
			name: "heading without list falls back",
			text: "FINAL RANKING: I prefer Response B over Response A",
			want: []Label{"Response B", "Response A"},
		},
		{
			name: "nothing parseable",
			text: "I cannot decide.",
			want: []Label{},
		},
		{
			name: "empty",
			text: "",
			want: []Label{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRanking(tt.text)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregate_UnanimousFirst(t *testing.T) {
	labels := map[Label]completion.ModelID{"Response A": "m1", "Response B": "m2"}
	rankings := []Stage2Result{
		{Model: "m1", ParsedRanking: []Label{"Response B", "Response A"}},
		{Model: "m2", ParsedRanking: []Label{"Response B", "Response A"}},
	}

	got := Aggregate(rankings, labels)
	require.Len(t, got, 2)
	assert.Equal(t, AggregateRanking{Model: "m2", AverageRank: 1.0, RankingsCount: 2}, got[0])
	assert.Equal(t, AggregateRanking{Model: "m1", AverageRank: 2.0, RankingsCount: 2}, got[1])
}

func TestAggregate_NeverRankedSortsLast(t *testing.T) {
	labels := map[Label]completion.ModelID{"Response A": "m1", "Response B": "m2", "Response C": "m3"}
	rankings := []Stage2Result{
		{Model: "m1", ParsedRanking: []Label{"Response B", "Response C"}},
		{Model: "m2", ParsedRanking: []Label{}},
		{Model: "m3", ParsedRanking: []Label{"Response C", "Response B", "Response Q"}},
	}

	got := Aggregate(rankings, labels)
	require.Len(t, got, 3)
	assert.Equal(t, completion.ModelID("m2"), got[0].Model)
	assert.InDelta(t, 1.5, got[0].AverageRank, 1e-9)
	assert.Equal(t, completion.ModelID("m3"), got[1].Model)
	assert.InDelta(t, 1.5, got[1].AverageRank, 1e-9)

	assert.Equal(t, completion.ModelID("m1"), got[2].Model)
	assert.True(t, math.IsInf(got[2].AverageRank, 1))
	assert.Equal(t, 0, got[2].RankingsCount)
	assert.False(t, got[2].Ranked())
}

func TestAggregate_TiesKeepLabelOrder(t *testing.T) {
	labels := map[Label]completion.ModelID{"Response A": "m1", "Response B": "m2"}
	rankings := []Stage2Result{
		{ParsedRanking: []Label{"Response A", "Response B"}},
		{ParsedRanking: []Label{"Response B", "Response A"}},
	}

	got := Aggregate(rankings, labels)
	require.Len(t, got, 2)
	assert.Equal(t, completion.ModelID("m1"), got[0].Model)
	assert.Equal(t, completion.ModelID("m2"), got[1].Model)
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil, map[Label]completion.ModelID{})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAggregateRanking_JSON(t *testing.T) {
	in := []AggregateRanking{
		{Model: "m1", AverageRank: 1.5, RankingsCount: 2},
		{Model: "m2", AverageRank: math.Inf(1), RankingsCount: 0},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"model":"m1","average_rank":1.5,"rankings_count":2},
		{"model":"m2","average_rank":null,"rankings_count":0}
	]`, string(data))

	var out []AggregateRanking
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.True(t, math.IsInf(out[1].AverageRank, 1))
}

func TestLabelLetter(t *testing.T) {
	assert.Equal(t, "C", LabelFor(2).Letter())
	assert.Equal(t, Label("Response A"), LabelFor(0))
	assert.Equal(t, "", Label("").Letter())
}
