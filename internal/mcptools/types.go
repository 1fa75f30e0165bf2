package mcptools

import "github.com/redwing-381/mirmer.ai/internal/perf"

// AskCouncilInput is the input for the ask_council tool.
type AskCouncilInput struct {
	Query string `json:"query" jsonschema:"the question to put to the council of models"`
}

// AnswerView is one council member's stage-1 answer.
type AnswerView struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// RankingView is one council member's peer review.
type RankingView struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsedRanking"`
}

// AggregateView is one model's averaged position. AverageRank is nil when
// no reviewer ranked the model.
type AggregateView struct {
	Model         string   `json:"model"`
	AverageRank   *float64 `json:"averageRank"`
	RankingsCount int      `json:"rankingsCount"`
}

// AskCouncilOutput is the output for the ask_council tool.
type AskCouncilOutput struct {
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Answers      []AnswerView      `json:"answers,omitempty"`
	Rankings     []RankingView     `json:"rankings,omitempty"`
	LabelToModel map[string]string `json:"labelToModel,omitempty"`
	Aggregate    []AggregateView   `json:"aggregate,omitempty"`
	Chairman     string            `json:"chairman,omitempty"`
	Final        string            `json:"final,omitempty"`
}

// GetPerformanceInput is the input for the get_performance tool.
type GetPerformanceInput struct{}

// LatencyView holds latency percentiles in seconds.
type LatencyView struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

func latencyView(p perf.Percentiles) LatencyView {
	return LatencyView{Count: p.Count, Mean: p.Mean, P50: p.P50, P90: p.P90, P95: p.P95, P99: p.P99}
}

// StageStatView holds latency percentiles for one stage.
type StageStatView struct {
	Stage   int         `json:"stage"`
	Latency LatencyView `json:"latency"`
}

// ModelStatView holds latency percentiles for one model.
type ModelStatView struct {
	Model   string      `json:"model"`
	Latency LatencyView `json:"latency"`
}

// GetPerformanceOutput is the output for the get_performance tool.
type GetPerformanceOutput struct {
	TotalQueries int             `json:"totalQueries"`
	Stages       []StageStatView `json:"stages"`
	Models       []ModelStatView `json:"models"`
	Summary      string          `json:"summary"`
}
