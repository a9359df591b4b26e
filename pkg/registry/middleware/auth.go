package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
)

const principalKey = "principal"

// RequireAuth resolves the caller to a principal, either from the
// x-user-id/x-api-key header pair the CLI sends or from a Bearer session
// token issued at login. Requests without valid credentials are rejected
// before the handler runs.
func RequireAuth(accounts *services.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetHeader("x-user-id")
		apiKey := c.GetHeader("x-api-key")
		if userId != "" || apiKey != "" {
			principal, err := accounts.Authenticate(c.Request.Context(), userId, apiKey)
			if err != nil {
				abortWith(c, err)
				return
			}
			c.Set(principalKey, principal)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortWith(c, problem.NewUnauthorized("missing credentials"))
			return
		}
		principal, err := accounts.AuthenticateToken(c.Request.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the principal RequireAuth stored on the context, or
// nil on unguarded routes.
func PrincipalFrom(c *gin.Context) *models.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	principal, _ := v.(*models.Principal)
	return principal
}

func abortWith(c *gin.Context, err error) {
	apiErr, ok := err.(problem.APIError)
	if !ok {
		apiErr = problem.NewInternalServerError(err.Error())
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(apiErr.Status, apiErr)
}
