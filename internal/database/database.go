package database

import (
	"context"
	"errors"

	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/pkg/auth"
)

// Database defines the methods required for registry and token storage.
type Database interface {
	// Initialize sets up the necessary tables, buckets or keys.
	Initialize(ctx context.Context) error

	Close(ctx context.Context) error

	// SetOwner records the registry owner. It is only called once per store.
	SetOwner(ctx context.Context, owner string) error

	// GetOwner returns the recorded owner or ErrOwnerNotSet.
	GetOwner(ctx context.Context) (string, error)

	// AddReporter marks a reporter as trusted. Adding an existing reporter
	// keeps the original entry.
	AddReporter(ctx context.Context, reporter models.Reporter) error

	// IsReporter reports whether the identity is a trusted reporter.
	IsReporter(ctx context.Context, id string) (bool, error)

	// ListReporters returns every trusted reporter ordered by AddedAt.
	ListReporters(ctx context.Context) ([]models.Reporter, error)

	// PutDetection writes or overwrites the detection for its FileHash.
	PutDetection(ctx context.Context, detection models.Detection) error

	// GetDetection retrieves the detection for a hash or ErrDetectionNotFound.
	GetDetection(ctx context.Context, fileHash string) (models.Detection, error)

	// GetTotalDetections returns the number of stored detections.
	GetTotalDetections(ctx context.Context) (int, error)

	// GetTotalConfirmed returns the number of confirmed detections.
	GetTotalConfirmed(ctx context.Context) (int, error)

	// GetTotalReporters returns the number of trusted reporters.
	GetTotalReporters(ctx context.Context) (int, error)

	auth.Database
}

var (
	ErrDetectionNotFound = errors.New("detection not found")
	ErrOwnerNotSet       = errors.New("registry owner not set")
)
