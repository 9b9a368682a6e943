package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/pos-ledger/ledger"
)

// ActorHeader carries the staff id when no JWT secret is configured, e.g.
// behind a gateway that has already authenticated the terminal.
const ActorHeader = "X-Actor-ID"

type actorKey struct{}

// ActorResolver turns a request into the already-authenticated actor.
type ActorResolver struct {
	secret []byte
	issuer string
}

// NewActorResolver uses JWT bearer tokens when secret is non-empty and the
// X-Actor-ID header otherwise.
func NewActorResolver(secret, issuer string) *ActorResolver {
	return &ActorResolver{secret: []byte(secret), issuer: issuer}
}

func (a *ActorResolver) Resolve(r *http.Request) (ledger.ActorID, error) {
	if len(a.secret) == 0 {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			return "", errors.New("missing " + ActorHeader + " header")
		}
		return ledger.ActorID(actor), nil
	}

	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return "", errors.New("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return ledger.ActorID(sub), nil
}

// RequireActor rejects requests without an actor with 401.
func (a *ActorResolver) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.Resolve(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, Result{Error: err.Error(), Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) ledger.ActorID {
	actor, _ := ctx.Value(actorKey{}).(ledger.ActorID)
	return actor
}
