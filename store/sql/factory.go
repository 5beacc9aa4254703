package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	deliveryStore       *WebhookDeliveryStore
	messageStore        *MessageStore
	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.deliveryStore != nil && f.messageStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) DeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *RepositoryFactory) MessageStore() *MessageStore {
	if f == nil {
		return nil
	}
	return f.messageStore
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

func (f *RepositoryFactory) initStores() error {
	deliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryStore = deliveryStore
	messageStore, err := NewMessageStore(f.db)
	if err != nil {
		return err
	}
	f.messageStore = messageStore
	rateLimitStateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStateStore = rateLimitStateStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
