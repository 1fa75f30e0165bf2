package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redwing-381/mirmer.ai/internal/completion"
	"github.com/redwing-381/mirmer.ai/internal/perf"
)

// StageTimer opens and closes timing spans around each stage.
type StageTimer interface {
	StartStage(stage int, ctx map[string]any) perf.SpanID
	EndStage(id perf.SpanID) (time.Duration, error)
}

// Orchestrator runs the collect → rank → synthesize protocol.
type Orchestrator struct {
	dispatcher *Dispatcher
	models     []completion.ModelID
	chairman   completion.ModelID
	timer      StageTimer
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStageTimer records a span per stage.
func WithStageTimer(t StageTimer) Option {
	return func(o *Orchestrator) { o.timer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator for the council models and chairman. Model
// order is significant: it fixes label assignment.
func New(d *Dispatcher, models []completion.ModelID, chairman completion.ModelID, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dispatcher: d,
		models:     append([]completion.ModelID(nil), models...),
		chairman:   chairman,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Models returns the council in configuration order.
func (o *Orchestrator) Models() []completion.ModelID {
	return append([]completion.ModelID(nil), o.models...)
}

// Chairman returns the synthesizing model.
func (o *Orchestrator) Chairman() completion.ModelID { return o.chairman }

// Run executes all three stages for query. Progress is reported through
// emit, which may be nil. Run emits every event up to stage3_complete, or
// error on abort. Emitting complete is left to the caller, once it has
// persisted the result.
//
// An AbortError is returned when no model responds in stage 1 or 2.
// Chairman failure is not an error: the synthesis carries ChairmanFailure.
func (o *Orchestrator) Run(ctx context.Context, query string, emit EmitFunc) (*Result, error) {
	if len(o.models) == 0 {
		return nil, ErrNoModels
	}
	if len(o.models) > MaxModels {
		return nil, fmt.Errorf("council: %d models exceeds %d labels", len(o.models), MaxModels)
	}

	r := &run{state: StateIdle}

	// ---------------------------------------------------------------------------
	// Stage 1: collect
	// ---------------------------------------------------------------------------

	r.advance(StateStage1)
	emit.emit(Event{Type: EventStage1Start})
	stage1, err := o.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(stage1) == 0 {
		return nil, o.abort(r, emit, StageCollect, ReasonStage1)
	}
	emit.emit(Event{Type: EventStage1Complete, Data: stage1})

	// ---------------------------------------------------------------------------
	// Stage 2: rank
	// ---------------------------------------------------------------------------

	r.advance(StateStage2)
	emit.emit(Event{Type: EventStage2Start})
	stage2, labelToModel, err := o.rank(ctx, query, stage1)
	if err != nil {
		return nil, err
	}
	if len(stage2) == 0 {
		return nil, o.abort(r, emit, StageRank, ReasonStage2)
	}
	outcome := Stage2Outcome{
		Rankings:          stage2,
		LabelToModel:      labelToModel,
		AggregateRankings: Aggregate(stage2, labelToModel),
	}
	emit.emit(Event{Type: EventStage2Complete, Data: outcome})

	// ---------------------------------------------------------------------------
	// Stage 3: synthesize
	// ---------------------------------------------------------------------------

	r.advance(StateStage3)
	emit.emit(Event{Type: EventStage3Start})
	synthesis, err := o.synthesize(ctx, query, stage1, stage2)
	if err != nil {
		return nil, err
	}
	emit.emit(Event{Type: EventStage3Complete, Data: synthesis})

	r.advance(StateDone)
	return &Result{Stage1: stage1, Stage2: outcome, Stage3: synthesis}, nil
}

func (o *Orchestrator) abort(r *run, emit EmitFunc, stage Stage, reason string) error {
	r.advance(StateAborted)
	o.logger.Error("council aborted", "stage", int(stage), "reason", reason)
	emit.emit(Event{Type: EventError, Message: reason})
	return &AbortError{Stage: stage, Reason: reason}
}

// collect asks every council model the raw query.
func (o *Orchestrator) collect(ctx context.Context, query string) (results []Stage1Result, err error) {
	span := o.startSpan(StageCollect, map[string]any{"query_length": len(query)})
	defer func() { err = errors.Join(err, o.endSpan(span)) }()

	answers, err := o.dispatcher.Dispatch(ctx, o.models, completion.UserMessage(query))
	if err != nil {
		return nil, err
	}

	results = make([]Stage1Result, 0, len(o.models))
	for _, m := range o.models {
		if res := answers[m]; res.OK() {
			results = append(results, Stage1Result{Model: m, Response: res.Content})
		}
	}
	o.logger.Info("stage 1 complete", "responses", len(results), "models", len(o.models))
	return results, nil
}

// rank asks every council model to rank the anonymized stage-1 answers.
func (o *Orchestrator) rank(ctx context.Context, query string, stage1 []Stage1Result) (results []Stage2Result, labelToModel map[Label]completion.ModelID, err error) {
	span := o.startSpan(StageRank, map[string]any{"responses_to_rank": len(stage1)})
	defer func() { err = errors.Join(err, o.endSpan(span)) }()

	anonymized, labelToModel := Anonymize(stage1)
	prompt := RankingPrompt(query, anonymized)

	reviews, err := o.dispatcher.Dispatch(ctx, o.models, completion.UserMessage(prompt))
	if err != nil {
		return nil, nil, err
	}

	results = make([]Stage2Result, 0, len(o.models))
	for _, m := range o.models {
		res := reviews[m]
		if !res.OK() {
			continue
		}
		parsed := ParseRanking(res.Content)
		if len(parsed) == 0 {
			o.logger.Warn("ranking not parseable", "model", string(m))
		}
		results = append(results, Stage2Result{Model: m, Ranking: res.Content, ParsedRanking: parsed})
	}
	o.logger.Info("stage 2 complete", "rankings", len(results), "models", len(o.models))
	return results, labelToModel, nil
}

// synthesize asks the chairman for the final answer. A failed call yields
// the ChairmanFailure response.
func (o *Orchestrator) synthesize(ctx context.Context, query string, stage1 []Stage1Result, stage2 []Stage2Result) (s Synthesis, err error) {
	span := o.startSpan(StageSynthesize, map[string]any{
		"stage1_responses": len(stage1),
		"stage2_rankings":  len(stage2),
	})
	defer func() { err = errors.Join(err, o.endSpan(span)) }()

	prompt := ChairmanPrompt(query, stage1, stage2)
	out, err := o.dispatcher.Dispatch(ctx, []completion.ModelID{o.chairman}, completion.UserMessage(prompt))
	if err != nil {
		return Synthesis{}, err
	}

	s = Synthesis{Model: o.chairman, Response: ChairmanFailure}
	if res := out[o.chairman]; res.OK() {
		s.Response = res.Content
	} else {
		o.logger.Error("chairman synthesis failed", "model", string(o.chairman))
	}
	return s, nil
}

func (o *Orchestrator) startSpan(stage Stage, ctx map[string]any) perf.SpanID {
	if o.timer == nil {
		return ""
	}
	return o.timer.StartStage(int(stage), ctx)
}

func (o *Orchestrator) endSpan(id perf.SpanID) error {
	if o.timer == nil {
		return nil
	}
	if _, err := o.timer.EndStage(id); err != nil {
		return fmt.Errorf("council: %w", err)
	}
	return nil
}
