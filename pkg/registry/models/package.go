package models

import "time"

// Package is a named, owned container for versions. The name is unique
// across the registry; OwnerId references the single owning user.
type Package struct {
	Id          string    `json:"id" gorm:"column:id;primaryKey"`
	Name        string    `json:"name" gorm:"column:name;uniqueIndex"`
	Description string    `json:"description" gorm:"column:description"`
	OwnerId     string    `json:"ownerId" gorm:"column:owner_id;index"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// Version is one immutable published artifact under a package. The
// (package_id, version) pair carries a unique index so the losing side of a
// concurrent publish gets a constraint violation instead of a duplicate row.
type Version struct {
	Id            string    `json:"id" gorm:"column:id;primaryKey"`
	PackageId     string    `json:"packageId" gorm:"column:package_id;uniqueIndex:idx_package_version"`
	Version       string    `json:"version" gorm:"column:version;uniqueIndex:idx_package_version"`
	Description   string    `json:"description" gorm:"column:description"`
	ContentHash   string    `json:"contentHash" gorm:"column:content_hash"`
	ByteSize      int64     `json:"fileSize" gorm:"column:byte_size"`
	BlobId        string    `json:"-" gorm:"column:blob_id"`
	Filename      string    `json:"filename" gorm:"column:filename"`
	PublishedBy   string    `json:"publishedBy" gorm:"column:published_by"`
	PublishedAt   time.Time `json:"publishedAt" gorm:"column:published_at"`
	DownloadCount int64     `json:"downloadCount" gorm:"column:download_count"`
}

// PackageSummary is the external view used by search results.
type PackageSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PackageParams struct {
	Name string `path:"name" validate:"required"`
}

type SearchParams struct {
	Query string `query:"query"`
}

// LatestVersionResponse wraps latestVersion results: either a version or an
// explicit no-versions message for a package that exists without versions.
type LatestVersionResponse struct {
	*Version
	Message string `json:"message,omitempty"`
}

func ToPackageSummary(p *Package) PackageSummary {
	return PackageSummary{
		Name:        p.Name,
		Description: p.Description,
		UpdatedAt:   p.UpdatedAt,
	}
}
