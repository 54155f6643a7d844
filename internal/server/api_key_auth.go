package server

import (
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/trialgate/internal/observability/context"
	"golang.org/x/crypto/bcrypt"
)

const (
	headerAPIKey       = "X-API-Key"
	contextAuthRoleKey = "auth_role"
)

type apiKey struct {
	role string
	hash []byte
}

// loadAPIKeys flattens the configured role to hash map. Roles are sorted so
// a key listed under two roles always resolves to the same one.
func loadAPIKeys(byRole map[string][]string) []apiKey {
	roles := make([]string, 0, len(byRole))
	for role := range byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	keys := make([]apiKey, 0, len(byRole))
	for _, role := range roles {
		name := strings.ToLower(strings.TrimSpace(role))
		if name == "" {
			continue
		}
		for _, hash := range byRole[role] {
			hash = strings.TrimSpace(hash)
			if hash == "" {
				continue
			}
			keys = append(keys, apiKey{role: name, hash: []byte(hash)})
		}
	}
	return keys
}

// APIKeyRequired authenticates requests by the X-API-Key header and resolves
// the role the key was issued for.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerAPIKey))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		role, ok := s.matchAPIKey(raw)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "api_key", role)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAuthRoleKey, role)
		c.Next()
	}
}

func (s *Server) matchAPIKey(raw string) (string, bool) {
	for _, key := range s.apiKeys {
		if bcrypt.CompareHashAndPassword(key.hash, []byte(raw)) == nil {
			return key.role, true
		}
	}
	return "", false
}

// authorize checks the authenticated role against the RBAC policy.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetString(contextAuthRoleKey))
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
