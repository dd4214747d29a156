package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/log"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

const (
	assetKeyPrefix = "asset:"       // Prefix for asset records, followed by the zero-padded ID
	queueStateKey  = "state:queue"  // Single QueueState document
	usageLedgerKey = "state:usage"  // Single UsageLedger document
	dbDir          = "alt_text_db" // Subdirectory name within stateDir for Badger DB files
)

// assetRecord is the stored form of an asset: the CMS fields plus what the pipeline wrote
type assetRecord struct {
	Asset      models.ImageAsset         `json:"asset"`
	Meta       *models.GenerationMeta    `json:"meta,omitempty"`
	Assessment *models.QualityAssessment `json:"assessment,omitempty"`
}

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	logger = logger.WithField("component", "store")
	dbPath := filepath.Join(stateDir, dbDir)

	logger.Infof("Opening state database at: %s", dbPath)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

func assetKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", assetKeyPrefix, id))
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so a tight loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON decodes key into dst. Reports false when the key does not exist.
func getJSON(txn *badger.Txn, key []byte, dst any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: getting key '%s': %w", utils.ErrDatabase, key, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
	if err != nil {
		return false, fmt.Errorf("%w: decoding key '%s': %w", utils.ErrDatabase, key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding key '%s': %w", key, err)
	}
	return txn.SetEntry(badger.NewEntry(key, val))
}

func (s *BadgerStore) loadRecord(id int64) (*assetRecord, error) {
	var rec assetRecord
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, assetKey(id), &rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: asset %d", utils.ErrNotFound, id)
	}
	return &rec, nil
}

// updateRecord applies fn to an existing record inside one transaction
func (s *BadgerStore) updateRecord(id int64, fn func(rec *assetRecord)) error {
	key := assetKey(id)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var rec assetRecord
		found, err := getJSON(txn, key, &rec)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: asset %d", utils.ErrNotFound, id)
		}
		fn(&rec)
		return setJSON(txn, key, &rec)
	})
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		s.log.WithField("asset_id", id).Errorf("DB update failed: %v", err)
		if !errors.Is(err, utils.ErrDatabase) {
			err = fmt.Errorf("%w: %w", utils.ErrDatabase, err)
		}
	}
	return err
}

// scanRecords calls fn for every stored asset record
func (s *BadgerStore) scanRecords(ctx context.Context, fn func(rec *assetRecord)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(assetKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec assetRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				s.log.Warnf("Skipping undecodable asset record '%s': %v", item.Key(), err)
				continue
			}
			fn(&rec)
		}
		return nil
	})
}

// GetAsset implements AssetStore
func (s *BadgerStore) GetAsset(_ context.Context, id int64) (*models.ImageAsset, error) {
	rec, err := s.loadRecord(id)
	if err != nil {
		return nil, err
	}
	return &rec.Asset, nil
}

// SetAltText implements AssetStore
func (s *BadgerStore) SetAltText(_ context.Context, id int64, text string) error {
	return s.updateRecord(id, func(rec *assetRecord) {
		rec.Asset.AltText = strings.TrimSpace(text)
	})
}

// SetGenerationMetadata implements AssetStore
func (s *BadgerStore) SetGenerationMetadata(_ context.Context, id int64, meta models.GenerationMeta) error {
	return s.updateRecord(id, func(rec *assetRecord) {
		rec.Meta = &meta
	})
}

// GetAssessment implements AssetStore
func (s *BadgerStore) GetAssessment(_ context.Context, id int64) (*models.QualityAssessment, error) {
	rec, err := s.loadRecord(id)
	if err != nil {
		return nil, err
	}
	return rec.Assessment, nil
}

// SetAssessment implements AssetStore
func (s *BadgerStore) SetAssessment(_ context.Context, id int64, a *models.QualityAssessment) error {
	return s.updateRecord(id, func(rec *assetRecord) {
		rec.Assessment = a
	})
}

// ClearAssessment implements AssetStore
func (s *BadgerStore) ClearAssessment(_ context.Context, id int64) error {
	return s.updateRecord(id, func(rec *assetRecord) {
		rec.Assessment = nil
	})
}

// ListMissingAltIDs implements AssetStore
func (s *BadgerStore) ListMissingAltIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := s.scanRecords(ctx, func(rec *assetRecord) {
		if rec.Asset.IsImage() && !rec.Asset.HasAlt() {
			ids = append(ids, rec.Asset.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ListAllImageIDs implements AssetStore. Order: generation time desc (never generated last),
// then upload time desc, then ID desc.
func (s *BadgerStore) ListAllImageIDs(ctx context.Context, limit, offset int) ([]int64, error) {
	type row struct {
		id          int64
		generatedAt time.Time
		uploadedAt  time.Time
	}
	var rows []row
	err := s.scanRecords(ctx, func(rec *assetRecord) {
		if !rec.Asset.IsImage() {
			return
		}
		r := row{id: rec.Asset.ID, uploadedAt: rec.Asset.UploadedAt}
		if rec.Meta != nil {
			r.generatedAt = rec.Meta.GeneratedAt
		}
		rows = append(rows, r)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.generatedAt.Equal(b.generatedAt) {
			return a.generatedAt.After(b.generatedAt)
		}
		if !a.uploadedAt.Equal(b.uploadedAt) {
			return a.uploadedAt.After(b.uploadedAt)
		}
		return a.id > b.id
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids, nil
}

// CountImages implements AssetStore
func (s *BadgerStore) CountImages(ctx context.Context) (int, error) {
	n := 0
	err := s.scanRecords(ctx, func(rec *assetRecord) {
		if rec.Asset.IsImage() {
			n++
		}
	})
	return n, err
}

// PutAsset implements AssetStore
func (s *BadgerStore) PutAsset(_ context.Context, asset *models.ImageAsset) error {
	if asset == nil || asset.ID <= 0 {
		return fmt.Errorf("%w: asset needs a positive id", utils.ErrConfigValidation)
	}
	key := assetKey(asset.ID)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var rec assetRecord
		if _, err := getJSON(txn, key, &rec); err != nil {
			return err
		}
		rec.Asset = *asset
		return setJSON(txn, key, &rec)
	})
	if err != nil {
		s.log.WithField("asset_id", asset.ID).Errorf("DB update failed in PutAsset: %v", err)
		return fmt.Errorf("%w: storing asset %d: %w", utils.ErrDatabase, asset.ID, err)
	}
	return nil
}

// MediaStats implements AssetStore
func (s *BadgerStore) MediaStats(ctx context.Context) (models.MediaStats, error) {
	var st models.MediaStats
	err := s.scanRecords(ctx, func(rec *assetRecord) {
		if !rec.Asset.IsImage() {
			return
		}
		st.Total++
		if rec.Asset.HasAlt() {
			st.WithAlt++
		}
		if rec.Meta != nil {
			st.Generated++
		}
	})
	if err != nil {
		return st, err
	}
	st.Missing = st.Total - st.WithAlt
	if st.Total > 0 {
		st.Coverage = math.Round(float64(st.WithAlt)*1000/float64(st.Total)) / 10
	}
	return st, nil
}

// LoadQueueState implements StateStore
func (s *BadgerStore) LoadQueueState(_ context.Context) (*models.QueueState, error) {
	var state models.QueueState
	found, err := s.viewJSON([]byte(queueStateKey), &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveQueueState implements StateStore
func (s *BadgerStore) SaveQueueState(_ context.Context, state *models.QueueState) error {
	return s.putJSON([]byte(queueStateKey), state)
}

// ClearQueueState implements StateStore
func (s *BadgerStore) ClearQueueState(_ context.Context) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Delete([]byte(queueStateKey))
	})
	if err != nil {
		return fmt.Errorf("%w: clearing queue state: %w", utils.ErrDatabase, err)
	}
	return nil
}

// LoadUsageLedger implements StateStore
func (s *BadgerStore) LoadUsageLedger(_ context.Context) (*models.UsageLedger, error) {
	var ledger models.UsageLedger
	found, err := s.viewJSON([]byte(usageLedgerKey), &ledger)
	if err != nil || !found {
		return nil, err
	}
	return &ledger, nil
}

// SaveUsageLedger implements StateStore
func (s *BadgerStore) SaveUsageLedger(_ context.Context, ledger *models.UsageLedger) error {
	return s.putJSON([]byte(usageLedgerKey), ledger)
}

func (s *BadgerStore) viewJSON(key []byte, dst any) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, key, dst)
		return err
	})
	return found, err
}

func (s *BadgerStore) putJSON(key []byte, v any) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return setJSON(txn, key, v)
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update failed: %v", err)
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing state DB: %v", err)
			return err
		}
		s.log.Info("State DB closed.")
	}
	return nil
}
