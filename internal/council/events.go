package council

import "fmt"

// EventType names a progress event of a council run.
type EventType string

const (
	EventStage1Start    EventType = "stage1_start"
	EventStage1Complete EventType = "stage1_complete"
	EventStage2Start    EventType = "stage2_start"
	EventStage2Complete EventType = "stage2_complete"
	EventStage3Start    EventType = "stage3_start"
	EventStage3Complete EventType = "stage3_complete"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is emitted as a council run progresses. Data carries the entity
// the event completes: []Stage1Result, Stage2Outcome or Synthesis.
type Event struct {
	Type    EventType `json:"type"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
}

// EmitFunc receives events synchronously from the orchestrating goroutine.
type EmitFunc func(Event)

func (f EmitFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

// FormatEvent formats an Event as a human-readable status line.
func FormatEvent(ev Event) string {
	switch ev.Type {
	case EventStage1Start:
		return "  ● Stage 1: collecting responses..."
	case EventStage1Complete:
		if rs, ok := ev.Data.([]Stage1Result); ok {
			return fmt.Sprintf("  ✓ Stage 1 complete (%d responses)", len(rs))
		}
		return "  ✓ Stage 1 complete"
	case EventStage2Start:
		return "  ● Stage 2: collecting peer rankings..."
	case EventStage2Complete:
		if out, ok := ev.Data.(Stage2Outcome); ok {
			return fmt.Sprintf("  ✓ Stage 2 complete (%d rankings)", len(out.Rankings))
		}
		return "  ✓ Stage 2 complete"
	case EventStage3Start:
		return "  ● Stage 3: chairman synthesizing..."
	case EventStage3Complete:
		if s, ok := ev.Data.(Synthesis); ok {
			return fmt.Sprintf("  ✓ Stage 3 complete (%s)", s.Model.Short())
		}
		return "  ✓ Stage 3 complete"
	case EventComplete:
		return "  ✓ done"
	case EventError:
		return fmt.Sprintf("  ✗ failed: %s", ev.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown event)", ev.Type)
	}
}
