package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/psstudio/internal/model"
	"github.com/msageha/psstudio/templates"
)

type stubFetcher struct {
	calls   atomic.Int32
	delay   time.Duration
	schemas map[string]model.Values
	err     error
}

func (f *stubFetcher) FetchSchema(ctx context.Context, kind string) (model.Values, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.schemas[kind]
	if !ok {
		return nil, model.NewServerError("fetch schema "+kind, errors.New("HTTP 404"))
	}
	return t.Clone(), nil
}

func fallbackFS() fstest.MapFS {
	return fstest.MapFS{
		"bot.json": {Data: []byte(`{"id":1,"coordinate":{"x":0,"y":0},"paused":false}`)},
		"pps.json": {Data: []byte(`{"id":1,"current_schedule":{"assignments":[]}}`)},
	}
}

func TestTemplate_ReturnsDeepCopy(t *testing.T) {
	p := New(nil, Options{Fallback: fallbackFS()})

	first, ok := p.Template("pps")
	require.True(t, ok)
	sched, ok := first.Map("current_schedule")
	require.True(t, ok)
	sched["assignments"] = []any{"mutated"}

	second, ok := p.Template("pps")
	require.True(t, ok)
	sched2, _ := second.Map("current_schedule")
	assert.Equal(t, []any{}, sched2["assignments"])
}

func TestTemplate_AbsentKindIsNotAnError(t *testing.T) {
	p := New(nil, Options{Fallback: fallbackFS()})
	tmpl, ok := p.Template("assignment")
	assert.False(t, ok)
	assert.Nil(t, tmpl)
}

func TestLoad_PrefersServer(t *testing.T) {
	f := &stubFetcher{schemas: map[string]model.Values{"bot": {"id": 7, "paused": true}}}
	p := New(f, Options{Fallback: fallbackFS()})

	tmpl, err := p.Load(context.Background(), "bot")
	require.NoError(t, err)
	assert.Equal(t, 7, tmpl["id"])

	src, ok := p.Source("bot")
	require.True(t, ok)
	assert.Equal(t, SourceServer, src)

	cached, ok := p.Template("bot")
	require.True(t, ok)
	assert.Equal(t, true, cached["paused"])
}

func TestLoad_FallsBackWhenServerFails(t *testing.T) {
	f := &stubFetcher{err: model.NewNetworkError("fetch schema", errors.New("connection refused"))}
	p := New(f, Options{Fallback: fallbackFS()})

	tmpl, err := p.Load(context.Background(), "bot")
	require.NoError(t, err)
	assert.Equal(t, false, tmpl["paused"])
	src, _ := p.Source("bot")
	assert.Equal(t, SourceFallback, src)

	_, err = p.Load(context.Background(), "relay")
	assert.Error(t, err)
}

func TestLoad_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := &stubFetcher{delay: 50 * time.Millisecond, schemas: map[string]model.Values{"msu": {"id": 1}}}
	p := New(f, Options{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Load(context.Background(), "msu")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestLoadAll_SkipsMissingKinds(t *testing.T) {
	f := &stubFetcher{schemas: map[string]model.Values{"task": {"task_type": "picktask"}}}
	p := New(f, Options{Fallback: fallbackFS()})

	require.NoError(t, p.LoadAll(context.Background()))
	assert.Equal(t, int32(len(Kinds)), f.calls.Load())

	stats := p.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 1, stats.Sources[string(SourceServer)])
	assert.Equal(t, 2, stats.Sources[string(SourceFallback)])
}

func TestLoadAll_Cancelled(t *testing.T) {
	f := &stubFetcher{delay: time.Second}
	p := New(f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetAndResetToDefault(t *testing.T) {
	f := &stubFetcher{schemas: map[string]model.Values{"bot": {"id": 9}}}
	p := New(f, Options{Fallback: fallbackFS()})

	p.Set("bot", model.Values{"id": 1, "custom": "yes"})
	require.NoError(t, p.Refresh(context.Background()))
	tmpl, _ := p.Template("bot")
	assert.Equal(t, "yes", tmpl["custom"], "local edits survive refresh")

	restored, ok := p.ResetToDefault("bot")
	require.True(t, ok)
	assert.NotContains(t, restored, "custom")
	src, _ := p.Source("bot")
	assert.Equal(t, SourceFallback, src)
}

func TestTTLExpiry(t *testing.T) {
	f := &stubFetcher{schemas: map[string]model.Values{"bot": {"id": 3}}}
	p := New(f, Options{TTL: time.Minute})
	now := time.Now()
	p.cache.now = func() time.Time { return now }

	_, err := p.Load(context.Background(), "bot")
	require.NoError(t, err)
	_, err = p.Load(context.Background(), "bot")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	now = now.Add(2 * time.Minute)
	_, ok := p.Template("bot")
	assert.False(t, ok)
	_, err = p.Load(context.Background(), "bot")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestEmbeddedFallbacksCoverEveryKind(t *testing.T) {
	p := New(nil, Options{Fallback: templates.Schemas()})
	for _, kind := range Kinds {
		_, ok := p.Template(kind)
		assert.True(t, ok, kind)
	}
}
