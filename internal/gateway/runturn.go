package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/internal/providers"
)

// turnOutcome is the accumulated result of driving one orchestrator.Turn to
// completion: the caller-visible text, whether it ended in error, and the
// usage totals reported on the Turn's EventUsage.
type turnOutcome struct {
	Text      string
	IsError   bool
	ErrorMsg  string
	Stopped   bool
	Usage     providers.Usage
	RunID     string
}

// startRun registers a new Run in the orchestrator's RunStore, already
// running: the caller has a session permit by the time it calls this, so
// there is no queued state worth tracking separately.
func (s *Server) startRun(sessionKey, agent string) *orchestrator.Run {
	run := &orchestrator.Run{
		ID:         uuid.NewString(),
		SessionKey: sessionKey,
		Agent:      agent,
		Status:     orchestrator.RunRunning,
		StartedAt:  time.Now(),
	}
	s.deps.Runs.Create(run)
	return run
}

// driveTurn runs in to completion, translating each orchestrator.TurnEvent
// into an orchestrator.RunEvent recorded both to the run-event history and
// published live to RunStore subscribers, and forwarding the raw TurnEvent
// to onEvent (nil is fine — /v1/chat has no live listener).
func (s *Server) driveTurn(ctx context.Context, runID string, in orchestrator.TurnInput, onEvent func(orchestrator.TurnEvent)) turnOutcome {
	out := turnOutcome{RunID: runID}

	for ev := range s.deps.Turn.Run(ctx, in) {
		if onEvent != nil {
			onEvent(ev)
		}

		switch ev.Kind {
		case orchestrator.EventFinal:
			out.Text = ev.Text
		case orchestrator.EventStopped:
			out.Stopped = true
			out.Text = ev.Text
		case orchestrator.EventError:
			out.IsError = true
			out.ErrorMsg = ev.Message
		case orchestrator.EventUsage:
			out.Usage = providers.Usage{
				InputTokens:  int(ev.InputTokens),
				OutputTokens: int(ev.OutputTokens),
				TotalTokens:  int(ev.TotalTokens),
			}
			s.history.append(runID, orchestrator.RunEvent{
				Kind: orchestrator.RunEventUsage, RunID: runID, Time: time.Now(),
				InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens, TotalTokens: ev.TotalTokens,
			})
			s.deps.Runs.Publish(runID, orchestrator.RunEvent{
				Kind: orchestrator.RunEventUsage, InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens, TotalTokens: ev.TotalTokens,
			})
			continue
		case orchestrator.EventToolCall:
			re := orchestrator.RunEvent{Kind: orchestrator.RunEventNodeStarted, RunID: runID, Time: time.Now(), NodeID: ev.ToolName}
			s.history.append(runID, re)
			s.deps.Runs.Publish(runID, re)
			continue
		case orchestrator.EventToolResult:
			kind := orchestrator.RunEventNodeCompleted
			if ev.IsError {
				kind = orchestrator.RunEventNodeFailed
			}
			re := orchestrator.RunEvent{Kind: kind, RunID: runID, Time: time.Now(), NodeID: ev.ToolName, Message: ev.Result}
			s.history.append(runID, re)
			s.deps.Runs.Publish(runID, re)
			continue
		default:
			continue
		}
	}

	status := orchestrator.RunCompleted
	switch {
	case out.IsError:
		status = orchestrator.RunFailed
	case out.Stopped:
		status = orchestrator.RunStopped
	}
	s.deps.Runs.UpdateStatus(runID, status, out.ErrorMsg)

	// Turn.run already records session usage on normal completion; quota
	// tracking lives only here since the orchestrator has no quota.Tracker
	// dependency of its own.
	if out.Usage.TotalTokens > 0 && s.deps.Quota != nil {
		s.deps.Quota.RecordUsage(in.Agent, int64(out.Usage.TotalTokens), 0)
	}
	return out
}
