// Package middleware provides the fiber middlewares of the service: identity
// verification, request logging, rate limiting and tracing.
package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LegacyTokenHeader is accepted alongside Authorization: Bearer.
const LegacyTokenHeader = "x-auth-token"

// Verifier turns a bearer credential into the caller's identity. It only
// checks the signature and claims; it never looks the user up.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier builds a Verifier from the JWT settings of cfg.
func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}
}

// Verify validates token and returns the identity it carries, either in the
// standard "sub" claim or in the legacy {"user": {"id": ...}} claim.
func (v *Verifier) Verify(token string) (uint, error) {
	if token == "" {
		return 0, models.NewUnauthenticatedError("Authentication token required")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return 0, models.NewUnauthenticatedError("Invalid or expired token")
	}

	id, err := identityFromClaims(claims)
	if err != nil {
		return 0, models.NewUnauthenticatedError(err.Error())
	}
	return id, nil
}

func identityFromClaims(claims jwt.MapClaims) (uint, error) {
	if sub, ok := claims["sub"]; ok {
		return parseIdentity(sub)
	}
	if user, ok := claims["user"].(map[string]interface{}); ok {
		if id, ok := user["id"]; ok {
			return parseIdentity(id)
		}
	}
	return 0, fmt.Errorf("token carries no identity")
}

func parseIdentity(raw interface{}) (uint, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return 0, fmt.Errorf("invalid identity claim type")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid identity in token")
	}
	return uint(id), nil
}

// HeaderToken reads the credential from Authorization: Bearer or x-auth-token.
func HeaderToken(c *fiber.Ctx) string {
	if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(c.Get(LegacyTokenHeader))
}

// HandshakeToken reads the credential of a realtime handshake: the token
// query parameter first, then the headers HeaderToken accepts.
func HandshakeToken(c *fiber.Ctx) string {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token
	}
	return HeaderToken(c)
}

// AuthRequired rejects requests without a valid credential and stores the
// caller identity in the "userID" local.
func AuthRequired(v *Verifier) fiber.Handler {
	return authenticate(v, HeaderToken)
}

// WebSocketAuthRequired is AuthRequired for realtime handshakes.
func WebSocketAuthRequired(v *Verifier) fiber.Handler {
	return authenticate(v, HandshakeToken)
}

func authenticate(v *Verifier, extract func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := v.Verify(extract(c))
		if err != nil {
			return models.RespondWithError(c, err, false)
		}
		c.Locals(LocalUserID, userID)
		c.SetUserContext(WithUserID(c.UserContext(), userID))
		return c.Next()
	}
}

// CurrentUserID returns the identity AuthRequired stored, or 0.
func CurrentUserID(c *fiber.Ctx) uint {
	id, _ := c.Locals(LocalUserID).(uint)
	return id
}

// IssueToken signs an HS256 token for userID. The service itself never logs
// users in; this serves the seed and smoke-test commands.
func IssueToken(cfg *config.Config, userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.JWTIssuer != "" {
		claims.Issuer = cfg.JWTIssuer
	}
	if cfg.JWTAudience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.JWTAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
