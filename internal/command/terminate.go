package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"firestige.xyz/callmon/internal/core"
)

// MethodCallTerminate force-ends the call monitored in a session.
const MethodCallTerminate = "call_terminate"

// TerminateParams represents parameters for the call_terminate command.
type TerminateParams struct {
	Session string `json:"session"`
}

// CallTerminator force-ends the call of one session.
type CallTerminator interface {
	Session() string
	Terminate(ctx context.Context) error
}

// RegisterTerminate binds call_terminate to t. Commands naming another
// session are acknowledged without effect, so one topic can serve many
// watchers.
func RegisterTerminate(h *Handler, t CallTerminator) {
	h.Register(MethodCallTerminate, func(ctx context.Context, cmd Command) Response {
		var params TerminateParams
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
		if params.Session == "" {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "session is required")
		}
		if params.Session != t.Session() {
			return Response{ID: cmd.ID, Result: map[string]interface{}{
				"session": params.Session,
				"status":  "not_watched",
			}}
		}

		err := t.Terminate(ctx)
		switch {
		case err == nil:
			return Response{ID: cmd.ID, Result: map[string]interface{}{
				"session": params.Session,
				"status":  "terminated",
			}}
		case errors.Is(err, core.ErrNoActiveCall):
			return errorResponse(cmd.ID, ErrCodeNoActiveCall, err.Error())
		default:
			return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("terminate call failed: %v", err))
		}
	})
}
