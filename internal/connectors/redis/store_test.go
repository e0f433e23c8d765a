package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-monitor-bulletin/internal/bulletin"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func sampleDefine(name string) bulletin.Define {
	return bulletin.Define{Name: name, App: "linux", MonitorIDs: []int64{1}, Metrics: []string{"cpu$$$usage"}, Creator: "admin"}
}

func TestStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	id, err := s.CreateDefine(ctx, sampleDefine("daily"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.True(t, mr.Exists("test:define:1"))
	assert.Equal(t, "1", mr.HGet("test:define:names", "daily"))

	got, err := s.GetDefine(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "daily", got.Name)
	require.NotNil(t, got.CreatedAt)

	got.Name = "nightly"
	got.Creator = "someone else"
	require.NoError(t, s.UpdateDefine(ctx, *got))

	got, err = s.GetDefine(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, "admin", got.Creator)
	assert.Equal(t, "", mr.HGet("test:define:names", "daily"))
	assert.Equal(t, "1", mr.HGet("test:define:names", "nightly"))
}

func TestStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.CreateDefine(ctx, sampleDefine("daily"))
	require.NoError(t, err)
	_, err = s.CreateDefine(ctx, sampleDefine("daily"))
	assert.ErrorIs(t, err, bulletin.ErrDefineExists)

	id, err := s.CreateDefine(ctx, sampleDefine("weekly"))
	require.NoError(t, err)
	clash := sampleDefine("daily")
	clash.ID = id
	assert.ErrorIs(t, s.UpdateDefine(ctx, clash), bulletin.ErrDefineExists)

	ghost := sampleDefine("ghost")
	ghost.ID = 42
	assert.ErrorIs(t, s.UpdateDefine(ctx, ghost), bulletin.ErrDefineNotFound)

	_, err = s.GetDefine(ctx, 42)
	assert.ErrorIs(t, err, bulletin.ErrDefineNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for _, n := range []string{"a", "b", "c"} {
		_, err := s.CreateDefine(ctx, sampleDefine(n))
		require.NoError(t, err)
	}

	page, err := s.ListDefines(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalElements)
	require.Len(t, page.Content, 2)
	assert.Equal(t, "a", page.Content[0].Name)
	assert.Equal(t, "b", page.Content[1].Name)

	beyond, err := s.ListDefines(ctx, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Content)

	n, err := s.DeleteDefines(ctx, []string{"a", "zzz", " "})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	page, err = s.ListDefines(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalElements)
	assert.Equal(t, "b", page.Content[0].Name)

	// a deleted name can be reused
	_, err = s.CreateDefine(ctx, sampleDefine("a"))
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
}

func TestStore_ServiceStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateDefine(ctx, sampleDefine("a"))
	require.NoError(t, err)

	var reporter bulletin.StatsReporter = s
	stats, err := reporter.ServiceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DefinesTotal)
}

func TestInfoInt(t *testing.T) {
	info := "# Server\r\nredis_version:7.2.0\r\nuptime_in_seconds:3600\r\n"
	assert.Equal(t, int64(3600), infoInt(info, "uptime_in_seconds"))
	assert.Zero(t, infoInt(info, "missing"))
}
