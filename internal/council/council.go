// Package council runs the three-stage council protocol: every configured
// model answers the query, every model then ranks the anonymized answers,
// and a chairman model synthesizes the final response.
package council

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/redwing-381/mirmer.ai/internal/completion"
)

// Stage identifies a pipeline stage (1–3).
type Stage int

const (
	StageCollect    Stage = 1
	StageRank       Stage = 2
	StageSynthesize Stage = 3
)

func (s Stage) String() string {
	switch s {
	case StageCollect:
		return "collect"
	case StageRank:
		return "rank"
	case StageSynthesize:
		return "synthesize"
	default:
		return "unknown"
	}
}

// Label is an anonymized per-invocation identifier such as "Response A".
type Label string

// Letter returns the trailing letter of the label.
func (l Label) Letter() string {
	s := string(l)
	if s == "" {
		return ""
	}
	return s[len(s)-1:]
}

// MaxModels is the number of distinct labels available.
const MaxModels = 26

// Stage1Result is one model's answer to the user query.
type Stage1Result struct {
	Model    completion.ModelID `json:"model"`
	Response string             `json:"response"`
}

// Stage2Result is one model's evaluation of the anonymized answers.
// ParsedRanking is empty when the ranking text did not follow the format.
type Stage2Result struct {
	Model         completion.ModelID `json:"model"`
	Ranking       string             `json:"ranking"`
	ParsedRanking []Label            `json:"parsed_ranking"`
}

// AggregateRanking is one model's average position across all reviewers.
// AverageRank is +Inf for a model no reviewer ranked.
type AggregateRanking struct {
	Model         completion.ModelID `json:"model"`
	AverageRank   float64            `json:"average_rank"`
	RankingsCount int                `json:"rankings_count"`
}

type aggregateRankingJSON struct {
	Model         completion.ModelID `json:"model"`
	AverageRank   *float64           `json:"average_rank"`
	RankingsCount int                `json:"rankings_count"`
}

// MarshalJSON encodes an infinite AverageRank as null.
func (a AggregateRanking) MarshalJSON() ([]byte, error) {
	v := aggregateRankingJSON{Model: a.Model, RankingsCount: a.RankingsCount}
	if !math.IsInf(a.AverageRank, 0) && !math.IsNaN(a.AverageRank) {
		r := a.AverageRank
		v.AverageRank = &r
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes a null AverageRank as +Inf.
func (a *AggregateRanking) UnmarshalJSON(data []byte) error {
	var v aggregateRankingJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	a.Model = v.Model
	a.RankingsCount = v.RankingsCount
	if v.AverageRank == nil {
		a.AverageRank = math.Inf(1)
	} else {
		a.AverageRank = *v.AverageRank
	}
	return nil
}

// Ranked reports whether at least one reviewer ranked the model.
func (a AggregateRanking) Ranked() bool { return a.RankingsCount > 0 }

// Stage2Outcome bundles the peer-review stage for callers.
type Stage2Outcome struct {
	Rankings          []Stage2Result               `json:"rankings"`
	LabelToModel      map[Label]completion.ModelID `json:"label_to_model"`
	AggregateRankings []AggregateRanking           `json:"aggregate_rankings"`
}

// Synthesis is the chairman's final answer.
type Synthesis struct {
	Model    completion.ModelID `json:"model"`
	Response string             `json:"response"`
}

// ChairmanFailure is the Synthesis response used when the chairman call fails.
const ChairmanFailure = "Error: The chairman was unable to synthesize a final answer. Please try again."

// Failed reports whether the chairman could not produce an answer.
func (s Synthesis) Failed() bool { return s.Response == ChairmanFailure }

// Result is the outcome of a completed council run.
type Result struct {
	Stage1 []Stage1Result `json:"stage1"`
	Stage2 Stage2Outcome  `json:"stage2"`
	Stage3 Synthesis      `json:"stage3"`
}

// Metadata is the peer-review bookkeeping persisted alongside a result.
type Metadata struct {
	LabelToModel      map[Label]completion.ModelID `json:"label_to_model"`
	AggregateRankings []AggregateRanking           `json:"aggregate_rankings"`
}

// Metadata returns the label mapping and aggregate rankings of r.
func (r *Result) Metadata() Metadata {
	return Metadata{
		LabelToModel:      r.Stage2.LabelToModel,
		AggregateRankings: r.Stage2.AggregateRankings,
	}
}

// ErrNoModels is returned when a dispatch is given no models.
var ErrNoModels = errors.New("council: no models")

// Abort reasons are stable and machine-distinguishable.
const (
	ReasonStage1 = "all models failed in stage 1"
	ReasonStage2 = "all models failed in stage 2"
)

// AbortError reports a stage in which no model responded.
type AbortError struct {
	Stage  Stage
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("council: aborted in stage %d: %s", int(e.Stage), e.Reason)
}

// IsAbort reports whether err is an AbortError and returns it.
func IsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
