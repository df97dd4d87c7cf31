package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/auth"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

type terminalKey struct{}

// TerminalAuth requires a valid terminal bearer token and stores the
// terminal ID on the request context.
func TerminalAuth(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				rest.WriteError(w, application.NewUnauthorizedError(errors.New("missing bearer token")), logger)
				return
			}

			terminalID, err := auth.TerminalFromToken(token, secret)
			if err != nil {
				logger.Warn("rejected terminal token", "path", r.URL.Path, "error", err)
				rest.WriteError(w, application.NewUnauthorizedError(err), logger)
				return
			}

			ctx := context.WithValue(r.Context(), terminalKey{}, terminalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TerminalFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(terminalKey{}).(string)
	return id, ok
}
