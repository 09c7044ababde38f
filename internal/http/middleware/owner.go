package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// OwnerHeader carries the owner reference when no token secret is configured.
	OwnerHeader = "X-Owner-ID"
	// OwnerLocalKey is the key used to store the resolved owner in Fiber's context locals.
	OwnerLocalKey = "owner"
	// AnonymousOwner is used when a request carries no owner reference.
	AnonymousOwner = "anonymous"
)

// Owner resolves the authenticated owner of a request. Token issuance lives
// elsewhere; this middleware only verifies.
//
// Behavior:
//   - Empty secret: the owner is read from X-Owner-ID, defaulting to "anonymous".
//   - Otherwise: a "Bearer" HS256 token is required. Its "sub" claim (or
//     "userId") becomes the owner. Missing or invalid tokens get 401.
func Owner(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error {
			owner := strings.TrimSpace(c.Get(OwnerHeader))
			if owner == "" {
				owner = AnonymousOwner
			}
			c.Locals(OwnerLocalKey, owner)
			return c.Next()
		}
	}

	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		owner, _ := claims.GetSubject()
		if owner == "" {
			owner, _ = claims["userId"].(string)
		}
		if owner == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token has no subject")
		}

		c.Locals(OwnerLocalKey, owner)
		return c.Next()
	}
}

// OwnerFrom returns the owner stored by Owner, or "" when it did not run.
func OwnerFrom(c *fiber.Ctx) string {
	s, _ := c.Locals(OwnerLocalKey).(string)
	return s
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
