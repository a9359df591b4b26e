package services_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerPrincipal(t *testing.T, accounts *services.AccountService, username string) *models.Principal {
	t.Helper()
	res, err := accounts.Register(context.Background(), &models.RegisterInput{Username: username, Password: "pw123"})
	require.NoError(t, err)
	return &models.Principal{UserId: res.UserId, Username: username}
}

func TestRegistryService_PublishRoundTrip(t *testing.T) {
	accounts, registry, _, _ := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")

	payload := "0123456789"
	version, err := registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad",
		Version:     "1.0.0",
		Description: "pads strings on the left",
		Filename:    "leftpad-1.0.0.pkg",
		Content:     strings.NewReader(payload),
	})
	require.NoError(t, err)

	wantHash := sha256.Sum256([]byte(payload))
	assert.Equal(t, hex.EncodeToString(wantHash[:]), version.ContentHash)
	assert.Equal(t, int64(len(payload)), version.ByteSize)
	assert.Equal(t, alice.UserId, version.PublishedBy)
	assert.False(t, version.PublishedAt.IsZero())

	// Downloaded bytes hash back to the recorded contentHash.
	download, err := registry.OpenDownload(ctx, "leftpad", "1.0.0")
	require.NoError(t, err)
	defer download.Stream.Close()
	data, err := io.ReadAll(download.Stream)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	gotHash := sha256.Sum256(data)
	assert.Equal(t, version.ContentHash, hex.EncodeToString(gotHash[:]))
	assert.Equal(t, "leftpad-1.0.0.pkg", download.Filename)
	assert.Equal(t, int64(len(payload)), download.Size)
}

func TestRegistryService_PublishDuplicateVersion(t *testing.T) {
	accounts, registry, blobs, _ := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")

	_, err := registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "a.pkg", Content: strings.NewReader("aa"),
	})
	require.NoError(t, err)

	_, err = registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "b.pkg", Content: strings.NewReader("bb"),
	})
	assert.Equal(t, 409, errStatus(t, err))

	// The rejected publish must not leave a second blob behind.
	stored, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRegistryService_PublishOwnership(t *testing.T) {
	accounts, registry, _, _ := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")
	bob := registerPrincipal(t, accounts, "bob")

	_, err := registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "a.pkg", Content: strings.NewReader("aa"),
	})
	require.NoError(t, err)

	_, err = registry.Publish(ctx, bob, &services.PublishInput{
		PackageName: "leftpad", Version: "2.0.0", Filename: "b.pkg", Content: strings.NewReader("bb"),
	})
	assert.Equal(t, 403, errStatus(t, err))

	// The owner can keep publishing.
	_, err = registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "2.0.0", Filename: "b.pkg", Content: strings.NewReader("bb"),
	})
	require.NoError(t, err)
}

func TestRegistryService_DeletePackage(t *testing.T) {
	accounts, registry, blobs, _ := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")
	bob := registerPrincipal(t, accounts, "bob")

	err := registry.DeletePackage(ctx, alice, "nosuch")
	assert.Equal(t, 404, errStatus(t, err))

	_, err = registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "a.pkg", Content: strings.NewReader("aa"),
	})
	require.NoError(t, err)
	_, err = registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.1.0", Filename: "b.pkg", Content: strings.NewReader("bb"),
	})
	require.NoError(t, err)

	err = registry.DeletePackage(ctx, bob, "leftpad")
	assert.Equal(t, 403, errStatus(t, err))

	require.NoError(t, registry.DeletePackage(ctx, alice, "leftpad"))

	_, err = registry.LatestVersion(ctx, "leftpad")
	assert.Equal(t, 404, errStatus(t, err))
	_, err = registry.OpenDownload(ctx, "leftpad", "1.0.0")
	assert.Equal(t, 404, errStatus(t, err))

	// Cascade removed the version blobs too.
	stored, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRegistryService_LatestVersionMonotonic(t *testing.T) {
	accounts, registry, _, _ := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")

	_, err := registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "a.pkg", Content: strings.NewReader("aa"),
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.1.0", Filename: "b.pkg", Content: strings.NewReader("bb"),
	})
	require.NoError(t, err)

	latest, err := registry.LatestVersion(ctx, "leftpad")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1.1.0", latest.Version)

	versions, err := registry.ListVersions(ctx, "leftpad")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	_, err = registry.LatestVersion(ctx, "nosuch")
	assert.Equal(t, 404, errStatus(t, err))
	_, err = registry.ListVersions(ctx, "nosuch")
	assert.Equal(t, 404, errStatus(t, err))
}

func TestRegistryService_DownloadCount(t *testing.T) {
	accounts, registry, _, _ := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")

	_, err := registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "a.pkg", Content: strings.NewReader("aa"),
	})
	require.NoError(t, err)

	download, err := registry.OpenDownload(ctx, "leftpad", "1.0.0")
	require.NoError(t, err)
	download.Stream.Close()

	// The increment is dispatched asynchronously.
	require.Eventually(t, func() bool {
		versions, err := registry.ListVersions(ctx, "leftpad")
		return err == nil && len(versions) == 1 && versions[0].DownloadCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryService_SweepOrphanBlobs(t *testing.T) {
	accounts, registry, blobs, blobDir := setupServices(t)
	ctx := context.Background()
	alice := registerPrincipal(t, accounts, "alice")

	_, err := registry.Publish(ctx, alice, &services.PublishInput{
		PackageName: "leftpad", Version: "1.0.0", Filename: "a.pkg", Content: strings.NewReader("referenced"),
	})
	require.NoError(t, err)

	orphanId, _, err := blobs.Put(ctx, strings.NewReader("orphan"))
	require.NoError(t, err)

	// Fresh orphans are inside the grace period and must survive a sweep.
	require.NoError(t, registry.SweepOrphanBlobs(ctx))
	stored, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Age the orphan past the grace period and sweep again.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(blobDir, orphanId[:2], orphanId), old, old))
	require.NoError(t, registry.SweepOrphanBlobs(ctx))

	stored, err = blobs.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, orphanId, stored[0].Id)
}
