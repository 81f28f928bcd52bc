package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"hostlink/internal/domain"
)

// sessionEventPayload covers the fields carried by every session lifecycle
// event. Terminal events carry the full domain.CompletedSession projection;
// the others carry just pid and command.
type sessionEventPayload struct {
	PID      int                  `json:"pid"`
	Command  string               `json:"command"`
	ExitCode *int                 `json:"exitCode"`
	Status   domain.SessionStatus `json:"status"`
}

// ForwardSessionEvents subscribes the audit sink to the session lifecycle
// events so background completions, terminations, and purges land in the
// audit trail alongside the tool invocations. It returns a function that
// removes the subscriptions.
func ForwardSessionEvents(bus domain.EventBus, sink domain.AuditLogger, logger *slog.Logger) func() {
	forward := func(ctx context.Context, event domain.Event) {
		var payload sessionEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Warn("audit forward: bad event payload", "event", string(event.Type), "error", err)
			return
		}

		entry := domain.AuditEvent{
			Timestamp: event.Timestamp,
			Type:      domain.AuditCommandExec,
			Outcome:   "success",
			Detail:    map[string]string{"pid": strconv.Itoa(payload.PID)},
		}
		if payload.Command != "" {
			entry.Detail["command"] = payload.Command
		}
		if payload.Status != "" {
			entry.Detail["status"] = string(payload.Status)
		}

		switch event.Type {
		case domain.EventSessionStarted:
			entry.Action = "start"
		case domain.EventSessionBlocked:
			entry.Action = "background"
		case domain.EventSessionCompleted:
			entry.Action = "exit"
			if payload.ExitCode != nil {
				entry.Detail["exit_code"] = strconv.Itoa(*payload.ExitCode)
				if *payload.ExitCode != 0 {
					entry.Outcome = "error"
				}
			}
		case domain.EventSessionTerminated:
			entry.Type = domain.AuditCommandKill
			entry.Action = "kill"
			if payload.ExitCode != nil {
				entry.Detail["exit_code"] = strconv.Itoa(*payload.ExitCode)
			}
		case domain.EventSessionPurged:
			entry.Action = "purge"
		default:
			return
		}

		if err := sink.Log(ctx, entry); err != nil {
			logger.Warn("audit forward failed", "event", string(event.Type), "error", err)
		}
	}

	types := []domain.EventType{
		domain.EventSessionStarted,
		domain.EventSessionBlocked,
		domain.EventSessionCompleted,
		domain.EventSessionTerminated,
		domain.EventSessionPurged,
	}
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, bus.Subscribe(t, forward))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
