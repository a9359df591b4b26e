package registry

import (
	"github.com/gin-gonic/gin"
	"github.com/glopm-dev/glopm-registry/pkg/registry/handler"
	"github.com/glopm-dev/glopm-registry/pkg/registry/middleware"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
	"github.com/loopfz/gadgeto/tonic"
	"github.com/wI2L/fizz"
	"github.com/wI2L/fizz/openapi"
)

var apiVersionHeader = fizz.Header(
	"API-Version",
	"The API version of the response",
	"",
)

// NewRouter wires the GloPM HTTP surface. JSON endpoints go through tonic so
// they land in the generated OpenAPI document; the two streaming endpoints
// (publish upload, artifact download) are registered on the raw gin engine
// because their bodies are byte streams, not schemas.
func NewRouter(apiVersion string, accounts *services.AccountService, auth *handler.AuthController, packages *handler.PackagesController) *fizz.Fizz {
	g := gin.Default()
	g.Use(APIVersionMiddleware(apiVersion))
	f := fizz.NewFromEngine(g)

	f.Generator().SetServers([]*openapi.Server{
		{
			URL:         "http://127.0.0.1:3000/api",
			Description: "Local registry",
		},
	})

	info := &openapi.Info{
		Title:       "GloPM registry API",
		Description: "Publish, search and download versioned packages.",
		Version:     apiVersion,
	}

	root := f.Group("/api", "GloPM", "GloPM registry routes")

	authGroup := root.Group("/auth", "Auth", "Account registration and login")
	authGroup.POST("/register",
		[]fizz.OperationOption{fizz.Summary("Register a new account")},
		tonic.Handler(auth.Register, 201),
	)
	authGroup.POST("/login",
		[]fizz.OperationOption{fizz.Summary("Log in with username and password")},
		tonic.Handler(auth.Login, 200),
	)
	authGroup.DELETE("/",
		[]fizz.OperationOption{fizz.Summary("Delete the account and all owned packages")},
		middleware.RequireAuth(accounts),
		tonic.Handler(auth.RemoveAccount, 204),
	)

	pkgGroup := root.Group("/packages", "Packages", "Package catalog and versions")
	pkgGroup.GET("/search",
		[]fizz.OperationOption{fizz.Summary("Search packages by name substring"), apiVersionHeader},
		tonic.Handler(packages.Search, 200),
	)
	pkgGroup.GET("/:name/latestVersion",
		[]fizz.OperationOption{fizz.Summary("Most recently published version of a package"), apiVersionHeader},
		tonic.Handler(packages.LatestVersion, 200),
	)
	pkgGroup.GET("/:name/versions",
		[]fizz.OperationOption{fizz.Summary("All versions of a package"), apiVersionHeader},
		tonic.Handler(packages.ListVersions, 200),
	)
	pkgGroup.DELETE("/:name",
		[]fizz.OperationOption{fizz.Summary("Delete a package, its versions and artifacts")},
		middleware.RequireAuth(accounts),
		tonic.Handler(packages.DeletePackage, 204),
	)

	// Streaming endpoints, outside the OpenAPI generator.
	g.POST("/api/packages/publish", middleware.RequireAuth(accounts), packages.Publish)
	g.GET("/api/packages/:name/download/:version", packages.Download)

	f.GET("/api/openapi.json", []fizz.OperationOption{}, f.OpenAPI(info, "json"))

	return f
}

type apiVersionWriter struct {
	gin.ResponseWriter
	version string
}

func (w *apiVersionWriter) WriteHeader(code int) {
	if code >= 200 && code < 300 {
		w.Header().Set("API-Version", w.version)
	}
	w.ResponseWriter.WriteHeader(code)
}

func APIVersionMiddleware(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &apiVersionWriter{c.Writer, version}
		c.Next()
	}
}
