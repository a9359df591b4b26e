package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/middleware"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
)

// AuthController binds the account endpoints to the AccountService.
type AuthController struct {
	Service *services.AccountService
}

func NewAuthController(s *services.AccountService) *AuthController {
	return &AuthController{Service: s}
}

// Register handles POST /auth/register
func (c *AuthController) Register(ctx *gin.Context, in *models.RegisterInput) (*models.AuthResult, error) {
	return c.Service.Register(ctx.Request.Context(), in)
}

// Login handles POST /auth/login
func (c *AuthController) Login(ctx *gin.Context, in *models.LoginInput) (*models.AuthResult, error) {
	return c.Service.Login(ctx.Request.Context(), in)
}

// RemoveAccount handles DELETE /auth/
func (c *AuthController) RemoveAccount(ctx *gin.Context) error {
	principal := middleware.PrincipalFrom(ctx)
	if principal == nil {
		return problem.NewUnauthorized("missing credentials")
	}
	return c.Service.RemoveAccount(ctx.Request.Context(), principal)
}
