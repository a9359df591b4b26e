package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/loopfz/gadgeto/tonic"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/glopm-dev/glopm-registry/pkg/jobs"
	registry "github.com/glopm-dev/glopm-registry/pkg/registry"
	"github.com/glopm-dev/glopm-registry/pkg/registry/blobstore"
	"github.com/glopm-dev/glopm-registry/pkg/registry/database"
	"github.com/glopm-dev/glopm-registry/pkg/registry/handler"
	problem "github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/repositories"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
)

const apiVersion = "1.0.0"

func invalidParamsFromBinding(err error, sample any) []problem.InvalidParam {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []problem.InvalidParam{{Name: "body", Reason: err.Error()}}
	}

	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	out := make([]problem.InvalidParam, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if tag := f.Tag.Get("json"); tag != "" && tag != "-" {
				name = strings.Split(tag, ",")[0]
			}
		}
		out = append(out, problem.InvalidParam{
			Name:   name,
			Reason: humanReason(fe),
		})
	}
	return out
}

func humanReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	default:
		return fe.Error()
	}
}

func init() {
	tonic.SetErrorHook(func(c *gin.Context, err error) (int, interface{}) {
		// Bind/validate errors → 400 with per-field invalidParams
		var be tonic.BindError
		if errors.As(err, &be) || isValidationErr(err) {
			invalids := invalidParamsFromBinding(err, models.RegisterInput{})
			apiErr := problem.NewBadRequest("body", "Invalid input", invalids...)
			c.Header("Content-Type", "application/problem+json")
			return apiErr.Status, apiErr
		}

		// Our own APIError → pass-through
		if apiErr, ok := err.(problem.APIError); ok {
			c.Header("Content-Type", "application/problem+json")
			return apiErr.Status, apiErr
		}

		// Everything else → 500
		internal := problem.NewInternalServerError(err.Error())
		c.Header("Content-Type", "application/problem+json")
		return internal.Status, internal
	})
}

func isValidationErr(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func main() {
	_ = godotenv.Load()

	dbcon := "postgres://" +
		os.Getenv("DB_USERNAME") + ":" +
		os.Getenv("DB_PASSWORD") + "@" +
		os.Getenv("DB_HOSTNAME") + "/" +
		os.Getenv("DB_DBNAME") + "?sslmode=" +
		os.Getenv("DB_SSLMODE")
	db, err := database.Connect(dbcon)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	blobDir := os.Getenv("BLOB_DIR")
	if blobDir == "" {
		blobDir = "./data/blobs"
	}
	blobs, err := blobstore.NewFSStore(blobDir)
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	packageRepo := repositories.NewPackageRepository(db)
	userRepo := repositories.NewUserRepository(db)
	registrySvc := services.NewRegistryService(packageRepo, blobs)
	accountSvc := services.NewAccountService(userRepo, registrySvc, []byte(jwtSecret))

	authController := handler.NewAuthController(accountSvc)
	packagesController := handler.NewPackagesController(registrySvc)

	jobs.ScheduleBlobSweep(context.Background(), registrySvc)

	router := registry.NewRouter(apiVersion, accountSvc, authController, packagesController)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server is running on port " + port)
	log.Fatal(http.ListenAndServe(":"+port, router))
}
