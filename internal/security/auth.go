package security

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/apierror"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
	// ContextKeyUsername is the gin context key for the authenticated username.
	ContextKeyUsername = "username"
)

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	UserID   uuid.UUID
	Username string
	Email    string
}

// UserLookup finds the user a token was issued for.
type UserLookup interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

type tokenClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenResolver issues and verifies bearer tokens. It is initialized once at
// startup and shared by the HTTP middleware and the live channel handshake.
type TokenResolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

// NewTokenResolver creates a TokenResolver from the application config. In
// testing mode a missing secret is replaced with a random one.
func NewTokenResolver(cfg *config.Config, users UserLookup) (*TokenResolver, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		if cfg.Mode != config.ModeTesting {
			return nil, fmt.Errorf("jwt secret is required")
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		log.Warn("Using a random JWT secret; tokens will not survive a restart")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenResolver{
		secret: secret,
		issuer: cfg.JWTIssuer,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}, nil
}

// Issue signs a token for user.
func (r *TokenResolver) Issue(user *model.User) (string, error) {
	now := r.now()
	claims := tokenClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies bearerToken and loads the user it names. Every failure
// wraps apierror.ErrUnauthenticated.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" || bearerToken == "null" || bearerToken == "undefined" {
		return nil, fmt.Errorf("token missing: %w", apierror.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(bearerToken, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %v: %w", err, apierror.ErrUnauthenticated)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject is not a user id: %w", apierror.ErrUnauthenticated)
	}
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("user not found for this token: %w", apierror.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("load token user: %w", err)
	}
	return &Identity{UserID: user.ID, Username: user.Username, Email: user.Email}, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// --- Gin HTTP middleware ---

// GetUserID returns the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(uuid.UUID)
	return id
}

// GetUsername returns the authenticated username from the gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}

// AuthMiddleware returns a gin middleware that extracts user identity from the Authorization header
// using the provided TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			apierror.Respond(c, fmt.Errorf("missing Authorization header: %w", apierror.ErrUnauthenticated))
			return
		}

		token, ok := BearerToken(auth)
		if !ok {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			apierror.Respond(c, fmt.Errorf("expected Bearer token: %w", apierror.ErrUnauthenticated))
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, apierror.ErrUnauthenticated) {
				log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			}
			apierror.Respond(c, err)
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyUsername, id.Username)
		c.Next()
	}
}
