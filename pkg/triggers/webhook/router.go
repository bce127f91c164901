package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidewire/tidewire/pkg/protocol"
)

var (
	ErrPathInUse     = errors.New("webhook path already registered")
	ErrRouteNotFound = errors.New("webhook path not registered")
)

// Handler receives requests for one registered webhook path.
type Handler struct {
	TriggerID  string
	WorkflowID string
	Callback   protocol.TriggerCallback
	Logger     *slog.Logger
}

// Router maps method and path pairs to the webhook triggers of active
// workflows. It does not listen on its own; the API server forwards ingress
// requests to Dispatch.
type Router struct {
	handlers map[string]*Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[string]*Handler),
		logger:   logger.With("module", "webhook_router"),
	}
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Register claims method and path for handler. A pair can be held by one trigger at a time.
func (r *Router) Register(ctx context.Context, method, path string, handler *Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := routeKey(method, path)

	if existing, exists := r.handlers[key]; exists {
		return fmt.Errorf("%w: %s is used by workflow %s", ErrPathInUse, key, existing.WorkflowID)
	}

	r.handlers[key] = handler
	r.logger.InfoContext(ctx, "Registered webhook handler", "route", key, "trigger_id", handler.TriggerID)

	return nil
}

// Unregister releases method and path if held by triggerID.
func (r *Router) Unregister(ctx context.Context, method, path, triggerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := routeKey(method, path)

	if handler, exists := r.handlers[key]; exists && handler.TriggerID == triggerID {
		delete(r.handlers, key)
		r.logger.InfoContext(ctx, "Unregistered webhook handler", "route", key, "trigger_id", triggerID)
	}
}

func (r *Router) Lookup(method, path string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[routeKey(method, path)]

	return handler, exists
}

// Dispatch hands data to the trigger registered for method and path. The
// callback runs in the background so the caller can answer the request.
func (r *Router) Dispatch(ctx context.Context, method, path string, data map[string]any) error {
	handler, exists := r.Lookup(method, path)
	if !exists {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, routeKey(method, path))
	}

	handler.Logger.InfoContext(ctx, "Received webhook request", "method", method, "path", path)

	go func() {
		if err := handler.Callback(context.WithoutCancel(ctx), data); err != nil {
			handler.Logger.ErrorContext(ctx, "Error handling webhook trigger", "error", err)
		}
	}()

	return nil
}

func (r *Router) HandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}
