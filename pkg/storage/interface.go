package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
)

// AssetStore is the media library as the pipeline sees it. Only alt text and the
// generation/review metadata are ever written back.
type AssetStore interface {
	// GetAsset returns the asset or an error wrapping utils.ErrNotFound
	GetAsset(ctx context.Context, id int64) (*models.ImageAsset, error)

	SetAltText(ctx context.Context, id int64, text string) error
	SetGenerationMetadata(ctx context.Context, id int64, meta models.GenerationMeta) error

	// GetAssessment returns nil, nil when no assessment is stored
	GetAssessment(ctx context.Context, id int64) (*models.QualityAssessment, error)
	SetAssessment(ctx context.Context, id int64, a *models.QualityAssessment) error
	ClearAssessment(ctx context.Context, id int64) error

	// ListMissingAltIDs returns up to limit image IDs without alt text, newest upload first
	ListMissingAltIDs(ctx context.Context, limit int) ([]int64, error)

	// ListAllImageIDs pages through every image, most recently generated first
	ListAllImageIDs(ctx context.Context, limit, offset int) ([]int64, error)
	CountImages(ctx context.Context) (int, error)

	// PutAsset inserts or replaces the CMS-owned fields of an asset, keeping generation metadata
	PutAsset(ctx context.Context, asset *models.ImageAsset) error
	MediaStats(ctx context.Context) (models.MediaStats, error)
}

// StateStore persists the queue and usage ledger between ticks and restarts.
// Load methods return nil, nil when nothing has been saved yet.
type StateStore interface {
	LoadQueueState(ctx context.Context) (*models.QueueState, error)
	SaveQueueState(ctx context.Context, state *models.QueueState) error
	ClearQueueState(ctx context.Context) error

	LoadUsageLedger(ctx context.Context) (*models.UsageLedger, error)
	SaveUsageLedger(ctx context.Context, ledger *models.UsageLedger) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the underlying connection
	Close() error
}

// Store combines the interfaces for components that need full access
type Store interface {
	AssetStore
	StateStore
	StoreAdmin
}
