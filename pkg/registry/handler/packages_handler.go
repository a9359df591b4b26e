package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/middleware"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
)

// PackagesController binds the package endpoints to the RegistryService.
type PackagesController struct {
	Service *services.RegistryService
}

func NewPackagesController(s *services.RegistryService) *PackagesController {
	return &PackagesController{Service: s}
}

// Publish handles POST /packages/publish. The multipart body is walked part
// by part so the artifact streams straight into the blob store; it is never
// buffered whole.
func (c *PackagesController) Publish(ctx *gin.Context) {
	principal := middleware.PrincipalFrom(ctx)
	if principal == nil {
		writeError(ctx, problem.NewUnauthorized("missing credentials"))
		return
	}

	reader, err := ctx.Request.MultipartReader()
	if err != nil {
		writeError(ctx, problem.NewBadRequest("body", "expected a multipart upload: "+err.Error()))
		return
	}

	in := &services.PublishInput{}
	var filePart *multipart.Part
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(ctx, problem.NewBadRequest("body", "malformed multipart body: "+err.Error()))
			return
		}
		if part.FormName() == "file" {
			filePart = part
			// Field parts after the file would require buffering the
			// artifact; the CLI always sends fields first.
			break
		}
		value, err := io.ReadAll(io.LimitReader(part, 1<<16))
		if err != nil {
			writeError(ctx, problem.NewBadRequest("body", "malformed multipart field: "+err.Error()))
			return
		}
		switch part.FormName() {
		case "packageName":
			in.PackageName = string(value)
		case "version":
			in.Version = string(value)
		case "description":
			in.Description = string(value)
		}
	}

	var invalids []problem.InvalidParam
	if in.PackageName == "" {
		invalids = append(invalids, problem.InvalidParam{Name: "packageName", Reason: "is required"})
	}
	if in.Version == "" {
		invalids = append(invalids, problem.InvalidParam{Name: "version", Reason: "is required"})
	}
	if filePart == nil {
		invalids = append(invalids, problem.InvalidParam{Name: "file", Reason: "is required"})
	}
	if len(invalids) > 0 {
		writeError(ctx, problem.NewBadRequest("body", "missing required fields", invalids...))
		return
	}

	in.Filename = filepath.Base(filePart.FileName())
	if in.Filename == "" || in.Filename == "." {
		in.Filename = fmt.Sprintf("%s-%s.pkg", in.PackageName, in.Version)
	}
	in.Content = filePart

	version, err := c.Service.Publish(ctx.Request.Context(), principal, in)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, version)
}

// Download handles GET /packages/:name/download/:version and streams the
// artifact back with the filename and size the CLI relies on.
func (c *PackagesController) Download(ctx *gin.Context) {
	download, err := c.Service.OpenDownload(ctx.Request.Context(), ctx.Param("name"), ctx.Param("version"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	defer download.Stream.Close()

	ctx.DataFromReader(http.StatusOK, download.Size, "application/octet-stream", download.Stream, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
	})
}

// DeletePackage handles DELETE /packages/:name
func (c *PackagesController) DeletePackage(ctx *gin.Context, params *models.PackageParams) error {
	principal := middleware.PrincipalFrom(ctx)
	if principal == nil {
		return problem.NewUnauthorized("missing credentials")
	}
	return c.Service.DeletePackage(ctx.Request.Context(), principal, params.Name)
}

// Search handles GET /packages/search
func (c *PackagesController) Search(ctx *gin.Context, params *models.SearchParams) ([]models.PackageSummary, error) {
	return c.Service.Search(ctx.Request.Context(), params.Query)
}

// LatestVersion handles GET /packages/:name/latestVersion
func (c *PackagesController) LatestVersion(ctx *gin.Context, params *models.PackageParams) (*models.LatestVersionResponse, error) {
	version, err := c.Service.LatestVersion(ctx.Request.Context(), params.Name)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return &models.LatestVersionResponse{Message: "no versions"}, nil
	}
	return &models.LatestVersionResponse{Version: version}, nil
}

// ListVersions handles GET /packages/:name/versions
func (c *PackagesController) ListVersions(ctx *gin.Context, params *models.PackageParams) ([]models.Version, error) {
	return c.Service.ListVersions(ctx.Request.Context(), params.Name)
}

func writeError(ctx *gin.Context, err error) {
	apiErr, ok := err.(problem.APIError)
	if !ok {
		apiErr = problem.NewInternalServerError(err.Error())
	}
	ctx.Header("Content-Type", "application/problem+json")
	ctx.AbortWithStatusJSON(apiErr.Status, apiErr)
}
