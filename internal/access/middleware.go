package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ciec-now/ciecnow/internal/platform/httpx"
)

type evaluatorContextKey struct{}

// WithEvaluator stores the actor's evaluator in context.
func WithEvaluator(ctx context.Context, e Evaluator) context.Context {
	return context.WithValue(ctx, evaluatorContextKey{}, e)
}

// FromContext extracts the evaluator; absent evaluators deny everything.
func FromContext(ctx context.Context) Evaluator {
	e, _ := ctx.Value(evaluatorContextKey{}).(Evaluator)
	return e
}

// Middleware guards routes with capability checks.
type Middleware struct {
	Logger *slog.Logger
}

// Require lets the request through only when the actor can perform action on subject.
func (m Middleware) Require(action Action, subject Subject) func(http.Handler) http.Handler {
	return m.RequireAny(Capability{Action: action, Subject: subject})
}

// RequireAny lets the request through when any of the capabilities is granted.
func (m Middleware) RequireAny(caps ...Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			e := FromContext(r.Context())
			for _, c := range caps {
				if e.Can(c.Action, c.Subject) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if m.Logger != nil {
				m.Logger.Warn("access denied", slog.String("path", r.URL.Path), slog.Any("required", caps))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}
