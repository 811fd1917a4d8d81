package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/iwc-exchange/apiserver/config"
	"github.com/iwc-exchange/apiserver/internal/services"
	"github.com/iwc-exchange/apiserver/internal/store"
	"github.com/iwc-exchange/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	detailNotAuthenticated   = "Not authenticated"
	detailInvalidToken       = "Invalid token"
	detailInvalidCredentials = "Invalid credentials"
	detailServerError        = "Server error"
)

// AuthHandler provides the signup and login endpoints.
type AuthHandler struct {
	userService *services.UserService
	secret      []byte
	tokenTTL    time.Duration
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		secret:      []byte(cfg.JWTSecret),
		tokenTTL:    cfg.TokenTTL,
	}
}

// AuthRouter registers the signup and login routes on the given router.
func AuthRouter(r chi.Router, userService *services.UserService, cfg config.AuthConfig) {
	handler := NewAuthHandler(userService, cfg)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
}

// RequireAuth constructs bearer-token middleware for protected routers.
// A missing or malformed Authorization header is rejected before the
// token is ever parsed; every token-validation failure collapses to the
// same generic response.
func RequireAuth(cfg config.AuthConfig) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, detailNotAuthenticated)
				return
			}

			subject, err := parseTokenSubject(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, detailInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Signup creates a new account. No token is issued; the user logs in
// separately.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	email := normalizeEmail(req.Email)
	if !isValidEmail(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "Passwords do not match")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, detailServerError)
		return
	}

	if _, err := h.userService.Create(r.Context(), types.User{
		Email:        email,
		PasswordHash: string(hashed),
	}); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, detailServerError)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Signup successful"})
}

// Login verifies form-encoded credentials and returns a bearer token.
// Unknown email and wrong password produce identical responses.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	email := normalizeEmail(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, http.StatusUnauthorized, detailInvalidCredentials)
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, detailInvalidCredentials)
			return
		}
		writeError(w, http.StatusInternalServerError, detailServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		writeError(w, http.StatusUnauthorized, detailInvalidCredentials)
		return
	}

	token, err := issueToken(user.Email, h.secret, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, detailServerError)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

type SignupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// normalizeEmail lowercases and trims so that storage and lookup agree
// on one canonical form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isValidEmail is a syntax check only; no existence check is made.
func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func issueToken(email string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
