package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"gorm.io/gorm"
)

type PackageRepository interface {
	CreatePackage(ctx context.Context, pkg *models.Package) error
	GetPackageByName(ctx context.Context, name string) (*models.Package, error)
	PackagesByOwner(ctx context.Context, ownerId string) ([]models.Package, error)
	TouchPackage(ctx context.Context, id, description string, at time.Time) error
	DeletePackage(ctx context.Context, id string) error
	SearchPackages(ctx context.Context, query string) ([]models.Package, error)

	CreateVersion(ctx context.Context, version *models.Version) error
	GetVersion(ctx context.Context, packageId, version string) (*models.Version, error)
	VersionsByPackage(ctx context.Context, packageId string) ([]models.Version, error)
	LatestVersion(ctx context.Context, packageId string) (*models.Version, error)
	DeleteVersionsByPackage(ctx context.Context, packageId string) error
	IncrementDownloadCount(ctx context.Context, versionId string) error
	BlobIdsInUse(ctx context.Context) ([]string, error)
}

type packageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) PackageRepository {
	return &packageRepository{db: db}
}

func (r *packageRepository) CreatePackage(ctx context.Context, pkg *models.Package) error {
	if err := r.db.WithContext(ctx).Create(pkg).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *packageRepository) GetPackageByName(ctx context.Context, name string) (*models.Package, error) {
	var pkg models.Package
	err := r.db.WithContext(ctx).First(&pkg, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *packageRepository) PackagesByOwner(ctx context.Context, ownerId string) ([]models.Package, error) {
	var pkgs []models.Package
	if err := r.db.WithContext(ctx).Find(&pkgs, "owner_id = ?", ownerId).Error; err != nil {
		return nil, err
	}
	return pkgs, nil
}

func (r *packageRepository) TouchPackage(ctx context.Context, id, description string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Package{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"description": description,
			"updated_at":  at,
		}).Error
}

func (r *packageRepository) DeletePackage(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.Package{}, "id = ?", id).Error
}

// SearchPackages matches the query as a case-insensitive substring of the
// package name. An empty query matches everything; result order is whatever
// the store returns.
func (r *packageRepository) SearchPackages(ctx context.Context, query string) ([]models.Package, error) {
	var pkgs []models.Package
	q := r.db.WithContext(ctx)
	if trimmed := strings.TrimSpace(query); trimmed != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(trimmed)+"%")
	}
	if err := q.Find(&pkgs).Error; err != nil {
		return nil, err
	}
	return pkgs, nil
}

func (r *packageRepository) CreateVersion(ctx context.Context, version *models.Version) error {
	if err := r.db.WithContext(ctx).Create(version).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *packageRepository) GetVersion(ctx context.Context, packageId, version string) (*models.Version, error) {
	var v models.Version
	err := r.db.WithContext(ctx).First(&v, "package_id = ? AND version = ?", packageId, version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *packageRepository) VersionsByPackage(ctx context.Context, packageId string) ([]models.Version, error) {
	var versions []models.Version
	if err := r.db.WithContext(ctx).Find(&versions, "package_id = ?", packageId).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *packageRepository) LatestVersion(ctx context.Context, packageId string) (*models.Version, error) {
	var v models.Version
	err := r.db.WithContext(ctx).
		Where("package_id = ?", packageId).
		Order("published_at DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *packageRepository) DeleteVersionsByPackage(ctx context.Context, packageId string) error {
	return r.db.WithContext(ctx).Delete(&models.Version{}, "package_id = ?", packageId).Error
}

func (r *packageRepository) IncrementDownloadCount(ctx context.Context, versionId string) error {
	return r.db.WithContext(ctx).Model(&models.Version{}).
		Where("id = ?", versionId).
		Update("download_count", gorm.Expr("download_count + 1")).Error
}

// BlobIdsInUse returns the blob id of every version row, for the orphan
// sweep to diff against the blob store's contents.
func (r *packageRepository) BlobIdsInUse(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Version{}).Pluck("blob_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
