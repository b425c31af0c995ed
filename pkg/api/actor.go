package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// ActorTokenHeader carries an optional HS256 JWT naming the caller. It
// attributes writes; it does not authorize them. The resume token does.
const ActorTokenHeader = "X-Actor-Token"

// Anonymous is the actor of requests without an actor token.
var Anonymous = contracts.Actor{Kind: contracts.ActorAgent, ID: "anonymous"}

// ActorClaims are the claims of an actor token. The subject is the actor id.
type ActorClaims struct {
	jwt.RegisteredClaims
	Kind contracts.ActorKind `json:"kind"`
	Name string              `json:"name,omitempty"`
}

// Actor returns the actor the claims describe.
func (c *ActorClaims) Actor() contracts.Actor {
	return contracts.Actor{Kind: c.Kind, ID: c.Subject, Name: c.Name}
}

// IssueActorToken signs an actor token valid for ttl.
func IssueActorToken(secret []byte, actor contracts.Actor, ttl time.Duration) (string, error) {
	if err := actor.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: actor.Kind,
		Name: actor.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseActorToken validates tokenStr and returns the actor it names.
func ParseActorToken(secret []byte, tokenStr string) (contracts.Actor, error) {
	if len(secret) == 0 {
		return contracts.Actor{}, errors.New("actor tokens are not accepted: no secret configured")
	}
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return contracts.Actor{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return contracts.Actor{}, errors.New("invalid token")
	}
	actor := claims.Actor()
	if err := actor.Validate(); err != nil {
		return contracts.Actor{}, err
	}
	return actor, nil
}

type actorKey struct{}

// ActorFrom returns the request's actor, Anonymous if none was resolved.
func ActorFrom(ctx context.Context) contracts.Actor {
	if a, ok := ctx.Value(actorKey{}).(contracts.Actor); ok {
		return a
	}
	return Anonymous
}

// ResolveActor puts the caller's actor in the request context. A present
// but invalid token is rejected with 401.
func ResolveActor(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(ActorTokenHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			actor, err := ParseActorToken(secret, raw)
			if err != nil {
				WriteErrorR(w, r, http.StatusUnauthorized, "Unauthorized", "invalid actor token")
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
