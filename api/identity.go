package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/fieldservice-engine/engine"
)

// Identity headers set by the upstream auth proxy.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderActorName = "X-Actor-Name"
)

type actorKey struct{}

// RequireActor rejects requests without a known identity with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := engine.Actor{
			ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
			Role: engine.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
			Name: strings.TrimSpace(r.Header.Get(HeaderActorName)),
		}
		if actor.ID == "" {
			writeError(w, http.StatusUnauthorized, "Missing identity", nil)
			return
		}
		switch actor.Role {
		case engine.RolePrivileged, engine.RoleAdmin, engine.RoleMember:
		case "":
			actor.Role = engine.RoleMember
		default:
			writeError(w, http.StatusUnauthorized, "Unknown role: "+string(actor.Role), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the actor stored by RequireActor.
func ActorFrom(ctx context.Context) (engine.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(engine.Actor)
	return a, ok
}

// requireManager allows privileged and admin actors only.
func requireManager(actor engine.Actor, action string) error {
	if actor.Role == engine.RolePrivileged || actor.Role == engine.RoleAdmin {
		return nil
	}
	return &engine.AuthorizationError{ActorID: actor.ID, ActivityID: "-", Reason: action + " requires admin or privileged role"}
}
