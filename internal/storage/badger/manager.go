package badger

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB owns the badgerhold store shared by every per-collection storage.
// Jobs, uploads, portfolios, events and the ETF cache all live in the same
// database, distinguished by their document types.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerDB opens the document store at config.Path, creating the
// directory if needed. With reset_on_startup the existing database is wiped
// first; dev and test configs use that for clean runs.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("storage.badger.path is required")
	}

	if config.ResetOnStartup {
		if err := os.RemoveAll(config.Path); err != nil {
			return nil, fmt.Errorf("failed to reset document store at %s: %w", config.Path, err)
		}
		logger.Info().Str("path", config.Path).Msg("Document store reset before open")
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document store directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // arbor carries the logging, badger's own stays off

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Document store open")
	return &BadgerDB{store: store, logger: logger}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close flushes and closes the document store.
func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}
	b.logger.Debug().Msg("Closing document store")
	return b.store.Close()
}

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	job       interfaces.JobStorage
	upload    interfaces.UploadStorage
	portfolio interfaces.PortfolioStorage
	event     interfaces.EventStorage
	etf       interfaces.ETFStorage
	logger    arbor.ILogger
}

// NewManager opens the document store and hands out the per-collection
// storages over it.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		job:       NewJobStorage(db, logger),
		upload:    NewUploadStorage(db, logger),
		portfolio: NewPortfolioStorage(db, logger),
		event:     NewEventStorage(db, logger),
		etf:       NewETFStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// UploadStorage returns the Upload storage interface
func (m *Manager) UploadStorage() interfaces.UploadStorage {
	return m.upload
}

// PortfolioStorage returns the Portfolio storage interface
func (m *Manager) PortfolioStorage() interfaces.PortfolioStorage {
	return m.portfolio
}

// EventStorage returns the Event storage interface
func (m *Manager) EventStorage() interfaces.EventStorage {
	return m.event
}

// ETFStorage returns the ETF holdings storage interface
func (m *Manager) ETFStorage() interfaces.ETFStorage {
	return m.etf
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
