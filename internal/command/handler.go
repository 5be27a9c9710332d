// Package command implements the remote control channel: commands
// addressed to a node are decoded, routed to a handler and answered with a
// JSON-RPC style response.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/callmon/internal/log"
)

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g. "call_terminate"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeNoActiveCall   = -32001 // Session has no confirmed call yet
)

// HandlerFunc executes one method.
type HandlerFunc func(ctx context.Context, cmd Command) Response

// Handler routes commands to the registered method handlers.
type Handler struct {
	mu      sync.RWMutex
	methods map[string]HandlerFunc
	log     log.Logger
}

// NewHandler creates an empty handler.
func NewHandler() *Handler {
	return &Handler{
		methods: make(map[string]HandlerFunc),
		log:     log.GetLogger().WithField("component", "command"),
	}
}

// Register binds method to fn, replacing any previous binding.
func (h *Handler) Register(method string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.methods[method] = fn
}

// Methods returns the registered method names, sorted.
func (h *Handler) Methods() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle processes a command and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	h.log.WithFields(map[string]interface{}{"method": cmd.Method, "id": cmd.ID}).Info("handling command")

	if cmd.Method == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidRequest, "method is required")
	}

	h.mu.RLock()
	fn, ok := h.methods[cmd.Method]
	h.mu.RUnlock()
	if !ok {
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
	return fn(ctx, cmd)
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}
