package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
)

var (
	// ErrSnapshot is returned when a snapshot can not be read or written.
	ErrSnapshot = errors.New("cache snapshot failed")
	// ErrSnapshotNotFound is returned by a store holding no snapshot.
	ErrSnapshotNotFound = errors.New("cache snapshot not found")
)

// Store persists encoded snapshots.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	String() string
}

type snapshot struct {
	Version int
	Saved   time.Time
	Items   []Item
}

// Encode serializes items into a snappy compressed snapshot.
func Encode(items []Item, saved time.Time) ([]byte, error) {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(snapshot{Version: snapshotVersion, Saved: saved, Items: items}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	return snappy.Encode(nil, buf.Bytes()), nil
}

// Decode parses a snapshot produced by Encode.
func Decode(data []byte) ([]Item, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshot, s.Version)
	}

	return s.Items, nil
}

// Save writes the live entries of c to store.
func (c *Cache) Save(ctx context.Context, store Store) (int, error) {
	items := c.Items()

	data, err := Encode(items, c.clock.Now())
	if err != nil {
		return 0, err
	}

	if err := store.Save(ctx, data); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	return len(items), nil
}

// Load restores the entries saved in store into c.
func (c *Cache) Load(ctx context.Context, store Store) (int, error) {
	data, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	items, err := Decode(data)
	if err != nil {
		return 0, err
	}

	return c.Restore(items), nil
}

// NewStore returns the store for location: a redis:// or rediss:// url
// selects a redis store, anything else is a file path.
func NewStore(location string) (Store, error) {
	if strings.HasPrefix(location, "redis://") || strings.HasPrefix(location, "rediss://") {
		opts, err := redis.ParseURL(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		return &RedisStore{
			Client:  redis.NewClient(opts),
			Key:     redisKey,
			Timeout: 5 * time.Second,
			addr:    opts.Addr,
		}, nil
	}

	if location == "" {
		return nil, errors.New("empty snapshot location")
	}

	return &FileStore{Path: location}, nil
}

// FileStore keeps the snapshot in a single file.
type FileStore struct {
	Path string
}

// Load reads the snapshot file.
func (f *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, ErrSnapshotNotFound
	}

	return data, err
}

// Save writes the snapshot to a temporary file and renames it in place.
func (f *FileStore) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), f.Path)
}

func (f *FileStore) String() string { return f.Path }

// RedisStore keeps the snapshot under a single redis key.
type RedisStore struct {
	Client  redis.Cmdable
	Key     string
	Timeout time.Duration

	addr string
}

// Load reads the snapshot key.
func (r *RedisStore) Load(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	data, err := r.Client.Get(ctx, r.Key).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}

	return data, err
}

// Save overwrites the snapshot key.
func (r *RedisStore) Save(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	return r.Client.Set(ctx, r.Key, data, 0).Err()
}

func (r *RedisStore) String() string { return "redis://" + r.addr + "/" + r.Key }

const (
	snapshotVersion = 1
	redisKey        = "sdnsfwd:cache:snapshot"
)
