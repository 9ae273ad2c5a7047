package auth

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/chirino/chat-service/internal/apierror"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

const (
	minPasswordLength = 6
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes  = 72
	maxUsernameLength = 50
)

// Response is returned by register and login.
type Response struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// MountRoutes mounts the registration and login routes. limit runs before
// each handler and is typically a per-IP rate limiter.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, resolver *security.TokenResolver, bcryptCost int, limit gin.HandlerFunc) {
	g := r.Group("/v1/auth", limit)

	g.POST("/register", func(c *gin.Context) {
		register(c, store, resolver, bcryptCost)
	})
	g.POST("/login", func(c *gin.Context) {
		login(c, store, resolver)
	})
}

func register(c *gin.Context, store registrystore.ChatStore, resolver *security.TokenResolver, bcryptCost int) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Validation("body", "invalid JSON body"))
		return
	}
	username := strings.TrimSpace(req.Username)
	email, err := normalizeEmail(req.Email)
	switch {
	case username == "":
		apierror.Respond(c, apierror.Validation("username", "Username is required"))
		return
	case utf8.RuneCountInString(username) > maxUsernameLength:
		apierror.Respond(c, apierror.Validation("username", "Username is too long"))
		return
	case err != nil:
		apierror.Respond(c, err)
		return
	case len(req.Password) < minPasswordLength:
		apierror.Respond(c, apierror.Validation("password", "Password must be at least 6 characters"))
		return
	case len(req.Password) > maxPasswordBytes:
		apierror.Respond(c, apierror.Validation("password", "Password is too long"))
		return
	}

	hash, err := security.HashPassword(req.Password, bcryptCost)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	user, err := store.CreateUser(c.Request.Context(), username, email, hash)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	token, err := resolver.Issue(user)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{User: user, Token: token})
}

func login(c *gin.Context, store registrystore.ChatStore, resolver *security.TokenResolver) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Validation("body", "invalid JSON body"))
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		apierror.Respond(c, apierror.ErrInvalidCredentials)
		return
	}

	user, err := store.FindUserByEmail(c.Request.Context(), email)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			apierror.Respond(c, apierror.ErrInvalidCredentials)
			return
		}
		apierror.Respond(c, err)
		return
	}
	if !security.CheckPassword(user.PasswordHash, req.Password) {
		apierror.Respond(c, apierror.ErrInvalidCredentials)
		return
	}
	token, err := resolver.Issue(user)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{User: user, Token: token})
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apierror.Validation("email", "Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apierror.Validation("email", "Email is invalid")
	}
	return email, nil
}
