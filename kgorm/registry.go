package kgorm

import (
	"fmt"
	"sync"

	"github.com/eboxsecure/ebox/core/domain"
	"gorm.io/gorm"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

// Options tune NewStorage.
type Options struct {
	Gorm        *gorm.Config
	SkipMigrate bool
	// SnowflakeNode is the order id generator node; zero means node 1.
	SnowflakeNode int64
}

var (
	registryMu sync.RWMutex
	providers  = make(map[string]any)
)

// Register adds a new storage provider to the registry.
// Provider can be a DialectorOpener (for GORM) or a custom factory function
// matching func(string, any) (domain.Storage, error).
func Register(name string, provider any) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[name] = provider
}

// NewStorage creates a new storage implementation based on the registered
// name. extra is passed to custom factories; GORM providers accept *Options.
func NewStorage(name string, dsn string, extra any, models ...any) (domain.Storage, error) {
	registryMu.RLock()
	provider, ok := providers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("kgorm: unknown storage provider %q", name)
	}

	if opener, ok := provider.(DialectorOpener); ok {
		opts, _ := extra.(*Options)
		if opts == nil {
			opts = &Options{}
		}
		gormConfig := opts.Gorm
		if gormConfig == nil {
			gormConfig = &gorm.Config{}
		}

		db, err := gorm.Open(opener(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("kgorm: open %s: %w", name, err)
		}

		repo := NewRepository(db)
		if opts.SnowflakeNode != 0 {
			if repo, err = NewRepositoryWithNode(db, opts.SnowflakeNode); err != nil {
				return nil, err
			}
		}
		if !opts.SkipMigrate {
			if err := repo.AutoMigrate(models...); err != nil {
				return nil, fmt.Errorf("kgorm: migrate: %w", err)
			}
		}
		return repo, nil
	}

	if factory, ok := provider.(func(string, any) (domain.Storage, error)); ok {
		return factory(dsn, extra)
	}

	return nil, fmt.Errorf("kgorm: provider %q registered with incompatible type (expected DialectorOpener or generic factory)", name)
}
