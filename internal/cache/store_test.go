package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

// fakeDurable is an in-memory Durable that can be told to fail.
type fakeDurable struct {
	mu      sync.Mutex
	values  map[string]string
	fail    error
	deletes []string
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{values: make(map[string]string)}
}

func (f *fakeDurable) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", false, f.fail
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeDurable) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.values[key] = value
	return nil
}

func (f *fakeDurable) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	if f.fail != nil {
		return f.fail
	}
	delete(f.values, key)
	return nil
}

func (f *fakeDurable) Close(context.Context) error { return nil }

func (f *fakeDurable) raw(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func TestStoreSetGetVolatile(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := New(Options{Clock: clock})
	ctx := context.Background()

	store.Set(ctx, "sales:3:2024", json.RawMessage(`{"total":10}`))

	got, ok := store.Get(ctx, "sales:3:2024")
	require.True(t, ok)
	require.JSONEq(t, `{"total":10}`, string(got))
	require.Equal(t, DefaultTTL, store.TTL())
	require.NoError(t, store.Close(ctx))
}

func TestStoreReturnsCopies(t *testing.T) {
	store := New(Options{Clock: clockwork.NewFakeClockAt(epoch)})
	ctx := context.Background()

	payload := json.RawMessage(`{"a":1}`)
	store.Set(ctx, "k", payload)
	payload[2] = 'b'

	got, ok := store.Get(ctx, "k")
	require.True(t, ok)
	got[2] = 'c'

	again, ok := store.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(again))
}

func TestStoreExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	durable := newFakeDurable()
	store := New(Options{Clock: clock, Durable: durable, TTL: time.Minute})
	ctx := context.Background()

	store.Set(ctx, "recurrence", json.RawMessage(`[1]`))

	clock.Advance(59 * time.Second)
	_, ok := store.Get(ctx, "recurrence")
	require.True(t, ok, "entry younger than the ttl must be served")

	clock.Advance(time.Second)
	_, ok = store.Get(ctx, "recurrence")
	require.False(t, ok, "entry at exactly the ttl is expired")

	_, present := durable.raw(DefaultKeyPrefix + "recurrence")
	require.False(t, present, "expired durable entry should be deleted")
}

func TestStorePromotesDurableHit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	durable := newFakeDurable()
	ctx := context.Background()

	first := New(Options{Clock: clock, Durable: durable, KeyPrefix: "cdt_"})
	first.Set(ctx, "sales:1:2024", json.RawMessage(`{"v":1}`))

	raw, ok := durable.raw("cdt_sales:1:2024")
	require.True(t, ok)
	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	require.True(t, entry.StoredAt.Equal(epoch))

	// A fresh process only has the durable tier.
	second := New(Options{Clock: clock, Durable: durable, KeyPrefix: "cdt_"})
	got, ok := second.Get(ctx, "sales:1:2024")
	require.True(t, ok)
	require.JSONEq(t, `{"v":1}`, string(got))
	require.Equal(t, 1, second.memory.size())

	// Promoted entries keep their original timestamp.
	clock.Advance(DefaultTTL)
	_, ok = second.Get(ctx, "sales:1:2024")
	require.False(t, ok)
}

func TestStoreDurableFailuresAreAbsorbed(t *testing.T) {
	durable := newFakeDurable()
	durable.fail = errors.New("disk full")
	store := New(Options{Clock: clockwork.NewFakeClockAt(epoch), Durable: durable})
	ctx := context.Background()

	store.Set(ctx, "k", json.RawMessage(`true`))
	got, ok := store.Get(ctx, "k")
	require.True(t, ok, "volatile write must survive a durable failure")
	require.Equal(t, `true`, string(got))

	_, ok = store.Get(ctx, "missing")
	require.False(t, ok)

	store.Invalidate(ctx, "k")
	_, ok = store.Get(ctx, "k")
	require.False(t, ok)
}

func TestStoreCorruptDurableEntryIsAbsent(t *testing.T) {
	durable := newFakeDurable()
	durable.values[DefaultKeyPrefix+"bad"] = "{not json"
	durable.values[DefaultKeyPrefix+"empty"] = `{"storedAt":"2024-03-15T10:00:00Z"}`
	store := New(Options{Clock: clockwork.NewFakeClockAt(epoch), Durable: durable})

	_, ok := store.Get(context.Background(), "bad")
	require.False(t, ok)
	_, ok = store.Get(context.Background(), "empty")
	require.False(t, ok)
}

func TestStoreInvalidateRemovesBothTiers(t *testing.T) {
	durable := newFakeDurable()
	store := New(Options{Clock: clockwork.NewFakeClockAt(epoch), Durable: durable})
	ctx := context.Background()

	store.Set(ctx, "summary", json.RawMessage(`{}`))
	store.Invalidate(ctx, "summary")

	_, ok := store.Get(ctx, "summary")
	require.False(t, ok)
	_, present := durable.raw(DefaultKeyPrefix + "summary")
	require.False(t, present)
	require.Contains(t, durable.deletes, DefaultKeyPrefix+"summary")
}

func TestStorageErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := error(&StorageError{Op: "get", Key: "k", Err: base})
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), `durable get "k"`)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, "get", storageErr.Op)
}
