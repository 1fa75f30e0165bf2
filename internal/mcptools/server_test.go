package mcptools

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redwing-381/mirmer.ai/internal/completion"
	"github.com/redwing-381/mirmer.ai/internal/council"
	"github.com/redwing-381/mirmer.ai/internal/perf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res   *council.Result
	err   error
	query string
}

func (f *fakeRunner) Run(_ context.Context, query string, _ council.EmitFunc) (*council.Result, error) {
	f.query = query
	return f.res, f.err
}

type fakeStats struct{}

func (fakeStats) Statistics() perf.Statistics {
	return perf.Statistics{
		TotalQueries: 2,
		StageStats: map[int]perf.Percentiles{
			2: {Count: 2, Mean: 3, P50: 3},
			1: {Count: 2, Mean: 1.5, P50: 1},
		},
		ModelStats: map[string]perf.Percentiles{
			"openai/gpt-4":     {Count: 4, Mean: 2},
			"anthropic/claude": {Count: 4, Mean: 1},
		},
	}
}

func (fakeStats) Summary() string { return "Performance Summary:\n  Total queries: 2" }

func sampleResult() *council.Result {
	return &council.Result{
		Stage1: []council.Stage1Result{
			{Model: "openai/gpt-4", Response: "four"},
			{Model: "anthropic/claude", Response: "4"},
		},
		Stage2: council.Stage2Outcome{
			Rankings: []council.Stage2Result{
				{Model: "openai/gpt-4", Ranking: "FINAL RANKING:\n1. Response B\n2. Response A", ParsedRanking: []council.Label{"Response B", "Response A"}},
			},
			LabelToModel: map[council.Label]completion.ModelID{
				"Response A": "openai/gpt-4",
				"Response B": "anthropic/claude",
			},
			AggregateRankings: []council.AggregateRanking{
				{Model: "anthropic/claude", AverageRank: 1, RankingsCount: 1},
				{Model: "openai/gpt-4", AverageRank: math.Inf(1), RankingsCount: 0},
			},
		},
		Stage3: council.Synthesis{Model: "google/gemini", Response: "The answer is 4."},
	}
}

func setupServerClient(t *testing.T, runner Runner) *mcp.ClientSession {
	t.Helper()

	server := NewCouncilMCPServer(NewCouncilService(runner, fakeStats{}))
	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args any) T {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, result.IsError, "%s returned a tool error", name)
	require.NotNil(t, result.StructuredContent)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t, &fakeRunner{res: sampleResult()})

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"ask_council", "get_performance"}, names)
}

func TestMCPAskCouncil(t *testing.T) {
	runner := &fakeRunner{res: sampleResult()}
	session := setupServerClient(t, runner)

	out := callTool[AskCouncilOutput](t, session, "ask_council", AskCouncilInput{Query: "What is 2+2?"})

	assert.Equal(t, "What is 2+2?", runner.query)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "google/gemini", out.Chairman)
	assert.Equal(t, "The answer is 4.", out.Final)
	require.Len(t, out.Answers, 2)
	assert.Equal(t, "openai/gpt-4", out.Answers[0].Model)
	require.Len(t, out.Rankings, 1)
	assert.Equal(t, []string{"Response B", "Response A"}, out.Rankings[0].ParsedRanking)
	assert.Equal(t, map[string]string{
		"Response A": "openai/gpt-4",
		"Response B": "anthropic/claude",
	}, out.LabelToModel)

	require.Len(t, out.Aggregate, 2)
	require.NotNil(t, out.Aggregate[0].AverageRank)
	assert.InDelta(t, 1.0, *out.Aggregate[0].AverageRank, 1e-9)
	assert.Nil(t, out.Aggregate[1].AverageRank, "unranked model has no average")
}

func TestMCPAskCouncilAbort(t *testing.T) {
	runner := &fakeRunner{err: &council.AbortError{Stage: council.StageCollect, Reason: council.ReasonStage1}}
	session := setupServerClient(t, runner)

	out := callTool[AskCouncilOutput](t, session, "ask_council", AskCouncilInput{Query: "q"})

	assert.Equal(t, "failed", out.Status)
	assert.Contains(t, out.Message, council.ReasonStage1)
	assert.Empty(t, out.Answers)
}

func TestMCPAskCouncilChairmanFailure(t *testing.T) {
	res := sampleResult()
	res.Stage3.Response = council.ChairmanFailure
	session := setupServerClient(t, &fakeRunner{res: res})

	out := callTool[AskCouncilOutput](t, session, "ask_council", AskCouncilInput{Query: "q"})

	assert.Equal(t, "partial", out.Status)
	assert.Equal(t, council.ChairmanFailure, out.Final)
}

func TestMCPAskCouncilEmptyQuery(t *testing.T) {
	runner := &fakeRunner{res: sampleResult()}
	session := setupServerClient(t, runner)

	out := callTool[AskCouncilOutput](t, session, "ask_council", AskCouncilInput{Query: "   "})

	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, "query is required", out.Message)
	assert.Empty(t, runner.query, "runner must not be called")
}

func TestMCPGetPerformance(t *testing.T) {
	session := setupServerClient(t, &fakeRunner{res: sampleResult()})

	out := callTool[GetPerformanceOutput](t, session, "get_performance", GetPerformanceInput{})

	assert.Equal(t, 2, out.TotalQueries)
	require.Len(t, out.Stages, 2)
	assert.Equal(t, 1, out.Stages[0].Stage)
	assert.Equal(t, 2, out.Stages[1].Stage)
	assert.InDelta(t, 1.5, out.Stages[0].Latency.Mean, 1e-9)
	require.Len(t, out.Models, 2)
	assert.Equal(t, "anthropic/claude", out.Models[0].Model)
	assert.Equal(t, 4, out.Models[1].Latency.Count)
	assert.Contains(t, out.Summary, "Total queries: 2")
}

func TestGetPerformanceWithoutStats(t *testing.T) {
	svc := NewCouncilService(&fakeRunner{}, nil)

	_, out, err := svc.GetPerformance(context.Background(), nil, GetPerformanceInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.TotalQueries)
	assert.NotNil(t, out.Stages)
	assert.NotNil(t, out.Models)
}
