package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/glopm-dev/glopm-registry/pkg/registry/blobstore"
	"github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/repositories"
	"github.com/glopm-dev/glopm-registry/pkg/tools"
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// PublishInput carries one publish request. Content is consumed exactly
// once, streaming; the content hash is computed server-side from the bytes
// actually received.
type PublishInput struct {
	PackageName string
	Version     string
	Description string
	Filename    string
	Content     io.Reader
}

// Download bundles the read stream of an artifact with the metadata a
// transport needs to serve it incrementally.
type Download struct {
	Stream   io.ReadCloser
	Filename string
	Size     int64
}

// RegistryService owns the package/version lifecycle: publish, delete,
// download, search and version queries. Ownership is enforced here, never in
// the transport layer.
type RegistryService struct {
	repo  repositories.PackageRepository
	blobs blobstore.BlobStore
}

func NewRegistryService(repo repositories.PackageRepository, blobs blobstore.BlobStore) *RegistryService {
	return &RegistryService{repo: repo, blobs: blobs}
}

// Publish stores the artifact bytes first and the version row second, so a
// crash in between leaves at most an unreferenced blob (recovered by the
// sweep job), never a version row pointing at missing bytes.
func (s *RegistryService) Publish(ctx context.Context, principal *models.Principal, in *PublishInput) (*models.Version, error) {
	pkg, err := s.repo.GetPackageByName(ctx, in.PackageName)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up package: " + err.Error())
	}
	if pkg == nil {
		pkg = &models.Package{
			Id:          shortid.MustGenerate(),
			Name:        in.PackageName,
			Description: in.Description,
			OwnerId:     principal.UserId,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := s.repo.CreatePackage(ctx, pkg); err != nil {
			if !errors.Is(err, repositories.ErrDuplicate) {
				return nil, problem.NewInternalServerError("failed to create package: " + err.Error())
			}
			// Lost the first-publish race; fall through to the ownership
			// check against the winner's package.
			if pkg, err = s.repo.GetPackageByName(ctx, in.PackageName); err != nil || pkg == nil {
				return nil, problem.NewInternalServerError("failed to look up package after create race")
			}
		}
	}
	if !principal.Owns(pkg.OwnerId) {
		return nil, problem.NewForbidden(in.PackageName, "only the package owner may publish new versions")
	}

	existing, err := s.repo.GetVersion(ctx, pkg.Id, in.Version)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up version: " + err.Error())
	}
	if existing != nil {
		return nil, problem.NewConflict("version", fmt.Sprintf("version %s of %s already exists", in.Version, in.PackageName))
	}

	hash := sha256.New()
	blobId, size, err := s.blobs.Put(ctx, io.TeeReader(in.Content, hash))
	if err != nil {
		return nil, problem.NewInternalServerError("failed to store artifact: " + err.Error())
	}

	version := &models.Version{
		Id:          uuid.NewString(),
		PackageId:   pkg.Id,
		Version:     in.Version,
		Description: in.Description,
		ContentHash: hex.EncodeToString(hash.Sum(nil)),
		ByteSize:    size,
		BlobId:      blobId,
		Filename:    in.Filename,
		PublishedBy: principal.UserId,
		PublishedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateVersion(ctx, version); err != nil {
		// The row was never written, so the blob is unreferenced; drop it
		// again instead of waiting for the sweep.
		if derr := s.blobs.Delete(context.Background(), blobId); derr != nil {
			log.Printf("[WARN] failed to delete blob %s after rejected publish: %v", blobId, derr)
		}
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, problem.NewConflict("version", fmt.Sprintf("version %s of %s already exists", in.Version, in.PackageName))
		}
		return nil, problem.NewInternalServerError("failed to store version: " + err.Error())
	}

	if err := s.repo.TouchPackage(ctx, pkg.Id, in.Description, time.Now().UTC()); err != nil {
		return nil, problem.NewInternalServerError("failed to update package: " + err.Error())
	}
	return version, nil
}

// DeletePackage removes the package, its versions and their blobs. Only the
// owner may delete.
func (s *RegistryService) DeletePackage(ctx context.Context, principal *models.Principal, name string) error {
	pkg, err := s.repo.GetPackageByName(ctx, name)
	if err != nil {
		return problem.NewInternalServerError("failed to look up package: " + err.Error())
	}
	if pkg == nil {
		return problem.NewNotFound(name, fmt.Sprintf("package %q not found", name))
	}
	if !principal.Owns(pkg.OwnerId) {
		return problem.NewForbidden(name, "only the package owner may delete it")
	}
	return s.cascadeDelete(ctx, pkg)
}

// RemovePackagesOwnedBy cascades an account removal over every package the
// user owns.
func (s *RegistryService) RemovePackagesOwnedBy(ctx context.Context, ownerId string) error {
	pkgs, err := s.repo.PackagesByOwner(ctx, ownerId)
	if err != nil {
		return problem.NewInternalServerError("failed to list packages: " + err.Error())
	}
	for i := range pkgs {
		if err := s.cascadeDelete(ctx, &pkgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *RegistryService) cascadeDelete(ctx context.Context, pkg *models.Package) error {
	versions, err := s.repo.VersionsByPackage(ctx, pkg.Id)
	if err != nil {
		return problem.NewInternalServerError("failed to list versions: " + err.Error())
	}
	if err := s.repo.DeleteVersionsByPackage(ctx, pkg.Id); err != nil {
		return problem.NewInternalServerError("failed to delete versions: " + err.Error())
	}
	if err := s.repo.DeletePackage(ctx, pkg.Id); err != nil {
		return problem.NewInternalServerError("failed to delete package: " + err.Error())
	}

	// Metadata is gone; a failed blob removal here only leaves an orphan for
	// the sweep, so it must not fail the delete.
	const maxConcurrent = 4
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range versions {
		blobId := v.BlobId
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := s.blobs.Delete(gctx, blobId); err != nil {
				log.Printf("[WARN] delete package %s: blob %s not removed: %v", pkg.Name, blobId, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// OpenDownload resolves a (package, version) pair to a byte stream. No
// authentication: downloads are public. The download counter increment is
// fire-and-forget.
func (s *RegistryService) OpenDownload(ctx context.Context, name, versionStr string) (*Download, error) {
	pkg, err := s.repo.GetPackageByName(ctx, name)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up package: " + err.Error())
	}
	if pkg == nil {
		return nil, problem.NewNotFound(name, fmt.Sprintf("package %q not found", name))
	}
	version, err := s.repo.GetVersion(ctx, pkg.Id, versionStr)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up version: " + err.Error())
	}
	if version == nil {
		return nil, problem.NewNotFound(name, fmt.Sprintf("version %s of %q not found", versionStr, name))
	}

	stream, err := s.blobs.Open(ctx, version.BlobId)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to open artifact: " + err.Error())
	}

	versionId := version.Id
	tools.Dispatch(context.Background(), "download_count", func(ctx context.Context) error {
		return s.repo.IncrementDownloadCount(ctx, versionId)
	})

	return &Download{Stream: stream, Filename: version.Filename, Size: version.ByteSize}, nil
}

// Search matches package names by case-insensitive substring; an empty
// query lists the whole catalog.
func (s *RegistryService) Search(ctx context.Context, query string) ([]models.PackageSummary, error) {
	pkgs, err := s.repo.SearchPackages(ctx, query)
	if err != nil {
		return nil, problem.NewInternalServerError("search failed: " + err.Error())
	}
	summaries := make([]models.PackageSummary, len(pkgs))
	for i := range pkgs {
		summaries[i] = models.ToPackageSummary(&pkgs[i])
	}
	return summaries, nil
}

// LatestVersion returns the version with the greatest publishedAt, or nil
// when the package exists but has no versions yet.
func (s *RegistryService) LatestVersion(ctx context.Context, name string) (*models.Version, error) {
	pkg, err := s.repo.GetPackageByName(ctx, name)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up package: " + err.Error())
	}
	if pkg == nil {
		return nil, problem.NewNotFound(name, fmt.Sprintf("package %q not found", name))
	}
	version, err := s.repo.LatestVersion(ctx, pkg.Id)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up latest version: " + err.Error())
	}
	return version, nil
}

func (s *RegistryService) ListVersions(ctx context.Context, name string) ([]models.Version, error) {
	pkg, err := s.repo.GetPackageByName(ctx, name)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up package: " + err.Error())
	}
	if pkg == nil {
		return nil, problem.NewNotFound(name, fmt.Sprintf("package %q not found", name))
	}
	versions, err := s.repo.VersionsByPackage(ctx, pkg.Id)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to list versions: " + err.Error())
	}
	return versions, nil
}

// sweepGracePeriod keeps the sweep away from blobs whose publish may still
// be writing its version row.
const sweepGracePeriod = time.Hour

// SweepOrphanBlobs removes blobs no version row references. A publish that
// dies between blob write and metadata write leaks one; this is the
// recovery path.
func (s *RegistryService) SweepOrphanBlobs(ctx context.Context) error {
	stored, err := s.blobs.List(ctx)
	if err != nil {
		return err
	}
	inUse, err := s.repo.BlobIdsInUse(ctx)
	if err != nil {
		return err
	}
	referenced := make(map[string]struct{}, len(inUse))
	for _, id := range inUse {
		referenced[id] = struct{}{}
	}

	cutoff := time.Now().Add(-sweepGracePeriod)
	const maxConcurrent = 4
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)
	var removed int
	for _, blob := range stored {
		if _, ok := referenced[blob.Id]; ok {
			continue
		}
		if blob.StoredAt.After(cutoff) {
			continue
		}
		id := blob.Id
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		removed++
		g.Go(func() error {
			defer sem.Release(1)
			return s.blobs.Delete(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("[sweep] removed %d orphaned blob(s)", removed)
	}
	return nil
}
