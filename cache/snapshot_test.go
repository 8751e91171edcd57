package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEncodeDecode(t *testing.T) {
	c, clock := newTestCache(t, 1<<20)

	require.NoError(t, c.Set(NewKey("a.com", dns.TypeA), aRecords("a.com."), time.Minute))
	require.NoError(t, c.Set(NewKey("b.com", dns.TypeA), aRecords("b.com."), time.Hour))

	items := c.Items()

	data, err := Encode(items, clock.Now())
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	for i := range items {
		assert.Equal(t, items[i].Key, decoded[i].Key)
		assert.Equal(t, items[i].Records, decoded[i].Records)
		assert.True(t, items[i].ExpireAt.Equal(decoded[i].ExpireAt))
		assert.Equal(t, items[i].Size, decoded[i].Size)
	}
}

func TestSnapshotDecodeCorrupt(t *testing.T) {
	_, err := Decode([]byte("definitely not a snapshot"))
	assert.ErrorIs(t, err, ErrSnapshot)
}

func TestSnapshotFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.snap")

	store, err := NewStore(path)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	c, clock := newTestCache(t, 1<<20)

	n, err := c.Load(context.Background(), store)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.Zero(t, n)

	require.NoError(t, c.Set(NewKey("a.com", dns.TypeA), aRecords("a.com."), time.Minute))
	require.NoError(t, c.Set(NewKey("b.com", dns.TypeA), aRecords("b.com."), 5*time.Second))

	n, err = c.Save(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clock.Advance(10 * time.Second)

	r := New(1 << 20)
	r.clock = clock

	n, err = r.Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.Get(NewKey("a.com", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, uint32(50), got[0].TTL)
}

func TestSnapshotFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.snap")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o600))

	c, _ := newTestCache(t, 1<<20)

	n, err := c.Load(context.Background(), &FileStore{Path: path})
	assert.ErrorIs(t, err, ErrSnapshot)
	assert.Zero(t, n)
	assert.Zero(t, c.Len())
}

func TestNewStore(t *testing.T) {
	store, err := NewStore("redis://localhost:6379/2")
	require.NoError(t, err)

	rs, ok := store.(*RedisStore)
	require.True(t, ok)
	assert.Equal(t, "redis://localhost:6379/"+redisKey, rs.String())

	_, err = NewStore("redis://localhost:6379/notadb")
	assert.Error(t, err)

	_, err = NewStore("")
	assert.Error(t, err)
}
