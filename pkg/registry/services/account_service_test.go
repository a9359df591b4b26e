package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/glopm-dev/glopm-registry/pkg/registry/blobstore"
	"github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/repositories"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupServices(t *testing.T) (*services.AccountService, *services.RegistryService, *blobstore.FSStore, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Package{}, &models.Version{}))

	blobDir := t.TempDir()
	blobs, err := blobstore.NewFSStore(blobDir)
	require.NoError(t, err)

	registry := services.NewRegistryService(repositories.NewPackageRepository(db), blobs)
	accounts := services.NewAccountService(repositories.NewUserRepository(db), registry, []byte("test-secret"))
	return accounts, registry, blobs, blobDir
}

func errStatus(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := err.(problem.APIError)
	require.True(t, ok, "expected problem.APIError, got %T: %v", err, err)
	return apiErr.Status
}

func TestAccountService_Register(t *testing.T) {
	accounts, _, _, _ := setupServices(t)
	ctx := context.Background()

	res, err := accounts.Register(ctx, &models.RegisterInput{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.UserId)
	assert.Len(t, res.ApiKey, 64) // 256 bits, hex
	assert.NotEmpty(t, res.Token)

	_, err = accounts.Register(ctx, &models.RegisterInput{Username: "alice", Password: "other"})
	assert.Equal(t, 409, errStatus(t, err))
}

func TestAccountService_Login(t *testing.T) {
	accounts, _, _, _ := setupServices(t)
	ctx := context.Background()

	reg, err := accounts.Register(ctx, &models.RegisterInput{Username: "alice", Password: "pw123"})
	require.NoError(t, err)

	_, err = accounts.Login(ctx, &models.LoginInput{Username: "nobody", Password: "pw123"})
	assert.Equal(t, 404, errStatus(t, err))

	_, err = accounts.Login(ctx, &models.LoginInput{Username: "alice", Password: "wrong"})
	assert.Equal(t, 401, errStatus(t, err))

	res, err := accounts.Login(ctx, &models.LoginInput{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	assert.Equal(t, reg.UserId, res.UserId)
	// The api key is stable across logins; only register creates one.
	assert.Equal(t, reg.ApiKey, res.ApiKey)
}

func TestAccountService_Authenticate(t *testing.T) {
	accounts, _, _, _ := setupServices(t)
	ctx := context.Background()

	reg, err := accounts.Register(ctx, &models.RegisterInput{Username: "alice", Password: "pw123"})
	require.NoError(t, err)

	principal, err := accounts.Authenticate(ctx, reg.UserId, reg.ApiKey)
	require.NoError(t, err)
	assert.Equal(t, reg.UserId, principal.UserId)
	assert.Equal(t, "alice", principal.Username)

	_, err = accounts.Authenticate(ctx, reg.UserId, strings.Repeat("0", 64))
	assert.Equal(t, 401, errStatus(t, err))

	_, err = accounts.Authenticate(ctx, "", "")
	assert.Equal(t, 401, errStatus(t, err))

	_, err = accounts.Authenticate(ctx, "ghost", reg.ApiKey)
	assert.Equal(t, 401, errStatus(t, err))
}

func TestAccountService_AuthenticateToken(t *testing.T) {
	accounts, _, _, _ := setupServices(t)
	ctx := context.Background()

	reg, err := accounts.Register(ctx, &models.RegisterInput{Username: "alice", Password: "pw123"})
	require.NoError(t, err)

	principal, err := accounts.AuthenticateToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.UserId, principal.UserId)

	_, err = accounts.AuthenticateToken(ctx, "not-a-token")
	assert.Equal(t, 401, errStatus(t, err))
}

func TestAccountService_RemoveAccountCascades(t *testing.T) {
	accounts, registry, blobs, _ := setupServices(t)
	ctx := context.Background()

	reg, err := accounts.Register(ctx, &models.RegisterInput{Username: "alice", Password: "pw123"})
	require.NoError(t, err)
	principal := &models.Principal{UserId: reg.UserId, Username: "alice"}

	_, err = registry.Publish(ctx, principal, &services.PublishInput{
		PackageName: "leftpad",
		Version:     "1.0.0",
		Filename:    "leftpad.pkg",
		Content:     strings.NewReader("0123456789"),
	})
	require.NoError(t, err)

	require.NoError(t, accounts.RemoveAccount(ctx, principal))

	// Package is gone from every query path, and the blob with it.
	_, err = registry.LatestVersion(ctx, "leftpad")
	assert.Equal(t, 404, errStatus(t, err))
	results, err := registry.Search(ctx, "leftpad")
	require.NoError(t, err)
	assert.Empty(t, results)
	stored, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	// Credentials no longer verify.
	_, err = accounts.Authenticate(ctx, reg.UserId, reg.ApiKey)
	assert.Equal(t, 401, errStatus(t, err))
}
