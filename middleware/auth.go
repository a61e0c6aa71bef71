package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/store"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID primitive.ObjectID
	Email  string
	Role   models.Role
}

func (id Identity) Can(c models.Capability) bool {
	return id.Role.Can(c)
}

// CanModify reports whether the caller may change a resource owned by owner.
// Owners always may; otherwise the role needs the capability.
func (id Identity) CanModify(owner primitive.ObjectID, c models.Capability) bool {
	return (!owner.IsZero() && owner == id.UserID) || id.Role.Can(c)
}

type Claims struct {
	UserID string      `json:"userId"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 bearer token for user.
func IssueToken(secret string, ttl time.Duration, user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID.Hex(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// UserLookup resolves the account behind a token.
type UserLookup interface {
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// Auth rejects requests without a valid bearer token and attaches the
// caller's Identity to the context. Role and email come from the stored
// account, so demotions and deletions apply to tokens already issued.
func Auth(jwtSecret string, users UserLookup) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			claims, err := parseToken(jwtSecret, parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			userID, err := primitive.ObjectIDFromHex(claims.UserID)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid user id")
				return
			}
			user, err := users.UserByID(r.Context(), userID)
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "user no longer exists")
				return
			}
			if err != nil {
				logging.Ctx(r.Context()).Error().Err(err).Str("user_id", userID.Hex()).Msg("auth user lookup failed")
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !user.Role.Valid() {
				writeError(w, http.StatusUnauthorized, "invalid role")
				return
			}
			id := Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
			rememberIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireCapability must run after Auth.
func RequireCapability(c models.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !id.Can(c) {
				writeError(w, http.StatusForbidden, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
