package httputil

import (
	"context"
	"net/http"

	"specdeck/internal/domain/models"
)

// Context key type to avoid collisions.
type contextKey string

const actorKey contextKey = "actor"

// WithActor attaches the authenticated actor to the request context.
func WithActor(r *http.Request, actor models.Actor) *http.Request {
	ctx := context.WithValue(r.Context(), actorKey, actor)
	return r.WithContext(ctx)
}

// ActorFromRequest retrieves the actor set by the auth middleware. The
// second return is false on unauthenticated requests.
func ActorFromRequest(r *http.Request) (models.Actor, bool) {
	actor, ok := r.Context().Value(actorKey).(models.Actor)
	return actor, ok
}
