package mcptools

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redwing-381/mirmer.ai/internal/council"
	"github.com/redwing-381/mirmer.ai/internal/perf"
)

// Runner executes one council query.
type Runner interface {
	Run(ctx context.Context, query string, emit council.EmitFunc) (*council.Result, error)
}

// StatsSource reports performance statistics.
type StatsSource interface {
	Statistics() perf.Statistics
	Summary() string
}

// CouncilService holds the orchestrator and monitor used by MCP tool handlers.
type CouncilService struct {
	runner Runner
	stats  StatsSource
}

// NewCouncilService creates a CouncilService. stats may be nil.
func NewCouncilService(runner Runner, stats StatsSource) *CouncilService {
	return &CouncilService{runner: runner, stats: stats}
}

// AskCouncil runs the full council protocol for a query. Council failures
// are reported in the output Status rather than as tool errors.
func (s *CouncilService) AskCouncil(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskCouncilInput,
) (*mcp.CallToolResult, AskCouncilOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, AskCouncilOutput{
			Status:  "failed",
			Message: "query is required",
		}, nil
	}

	res, err := s.runner.Run(ctx, input.Query, nil)
	if err != nil {
		return nil, AskCouncilOutput{
			Status:  "failed",
			Message: err.Error(),
		}, nil
	}

	out := AskCouncilOutput{
		Status:       "completed",
		LabelToModel: make(map[string]string, len(res.Stage2.LabelToModel)),
		Chairman:     string(res.Stage3.Model),
		Final:        res.Stage3.Response,
	}
	if res.Stage3.Failed() {
		out.Status = "partial"
	}
	for _, a := range res.Stage1 {
		out.Answers = append(out.Answers, AnswerView{Model: string(a.Model), Response: a.Response})
	}
	for _, r := range res.Stage2.Rankings {
		parsed := make([]string, len(r.ParsedRanking))
		for i, l := range r.ParsedRanking {
			parsed[i] = string(l)
		}
		out.Rankings = append(out.Rankings, RankingView{Model: string(r.Model), Ranking: r.Ranking, ParsedRanking: parsed})
	}
	for label, model := range res.Stage2.LabelToModel {
		out.LabelToModel[string(label)] = string(model)
	}
	for _, agg := range res.Stage2.AggregateRankings {
		v := AggregateView{Model: string(agg.Model), RankingsCount: agg.RankingsCount}
		if !math.IsInf(agg.AverageRank, 0) {
			r := agg.AverageRank
			v.AverageRank = &r
		}
		out.Aggregate = append(out.Aggregate, v)
	}
	return nil, out, nil
}

// GetPerformance reports stage and model latency percentiles.
func (s *CouncilService) GetPerformance(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ GetPerformanceInput,
) (*mcp.CallToolResult, GetPerformanceOutput, error) {
	out := GetPerformanceOutput{Stages: []StageStatView{}, Models: []ModelStatView{}}
	if s.stats == nil {
		return nil, out, nil
	}

	st := s.stats.Statistics()
	out.TotalQueries = st.TotalQueries
	out.Summary = s.stats.Summary()
	for stage, p := range st.StageStats {
		out.Stages = append(out.Stages, StageStatView{Stage: stage, Latency: latencyView(p)})
	}
	sort.Slice(out.Stages, func(i, j int) bool { return out.Stages[i].Stage < out.Stages[j].Stage })
	for model, p := range st.ModelStats {
		out.Models = append(out.Models, ModelStatView{Model: model, Latency: latencyView(p)})
	}
	sort.Slice(out.Models, func(i, j int) bool { return out.Models[i].Model < out.Models[j].Model })
	return nil, out, nil
}
