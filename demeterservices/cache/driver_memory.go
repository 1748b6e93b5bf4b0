package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type recallItem struct {
	Value     string
	ExpiresAt time.Time
}

const defaultMemoryEntries = 4096

// NewDriverMemory returns an in-process cache bounded to a fixed number of
// entries, evicting least recently used first. Expired entries are dropped on
// read.
func NewDriverMemory() (Driver, error) {
	return NewDriverMemorySized(defaultMemoryEntries)
}

func NewDriverMemorySized(entries int) (Driver, error) {
	data, err := lru.New[string, recallItem](entries)
	if err != nil {
		return nil, err
	}

	return &driverMemory{
		data: data,
	}, nil
}

type driverMemory struct {
	data *lru.Cache[string, recallItem]
}

func (driver *driverMemory) Delete(ctx context.Context, key string) error {
	driver.data.Remove(key)

	return nil
}

func (driver *driverMemory) Get(ctx context.Context, key string) (string, error) {
	item, found := driver.data.Get(key)
	if !found {
		return "", ErrNotFound
	}

	if time.Since(item.ExpiresAt) >= 0 {
		driver.data.Remove(key)

		return "", ErrNotFound
	}

	return item.Value, nil
}

func (driver *driverMemory) Set(ctx context.Context, key string, value string, duration time.Duration) error {
	driver.data.Add(key, recallItem{
		Value:     value,
		ExpiresAt: time.Now().Add(duration),
	})

	return nil
}
