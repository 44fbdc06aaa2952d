package server

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/pciledger/server/api"
)

// tokenIssuer is the iss claim of every token this server signs.
const tokenIssuer = "pciledger"

// signToken creates an HS256 token for subject valid for ttl.
func signToken(secret []byte, subject string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// parseToken validates token and returns its subject.
func parseToken(secret []byte, token string, now time.Time) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// generateSecret creates a random 32-byte secret.
func generateSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

// jwtSecret returns the configured JWT secret, generating one if empty.
func (s *Server) jwtSecret() []byte {
	if s.cfg.Auth.JWTSecret != "" {
		return []byte(s.cfg.Auth.JWTSecret)
	}
	s.secretOnce.Do(func() {
		s.logger.Warn("auth.jwt_secret not set; generated a random secret, tokens will not survive a restart")
		s.generatedSecret = generateSecret()
	})
	return s.generatedSecret
}

func (s *Server) verifyToken(token string) (string, error) {
	return parseToken(s.jwtSecret(), token, s.now())
}

// loginRequest is the body accepted by POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the body returned by a successful login.
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleLogin checks the admin credentials and issues a token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.checkCredentials(req.Username, req.Password) {
		s.logger.Warn("login rejected", "username", req.Username)
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := s.now()
	ttl := s.cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := signToken(s.jwtSecret(), req.Username, now, ttl)
	if err != nil {
		s.logger.Error("sign jwt", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: now.Add(ttl).UTC()})
}

// checkCredentials compares against the configured bcrypt hash. An unset
// hash disables password login.
func (s *Server) checkCredentials(username, password string) bool {
	if username != s.cfg.Auth.AdminUser || s.cfg.Auth.AdminPass == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.AdminPass), []byte(password)) == nil
}

// handleMe returns the currently authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": api.Subject(r.Context())})
}

// authMiddleware enforces JWT authentication on wrapped handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := s.verifyToken(token)
		if err != nil {
			s.logger.Debug("token rejected", "err", err)
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := api.WithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
