package embedder

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	calls int
	dims  int
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0, 0}
	}
	return out, nil
}

func (f *fakeClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	return vecs[0], err
}

func (f *fakeClient) Dimensions() int { return f.dims }
func (f *fakeClient) Close() error    { return nil }

func TestCachedClient_CachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(dir, 0o755)

	inner := &fakeClient{dims: 3}
	cached, err := NewCachedClient(inner, dir)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()

	first, err := cached.Embed(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	second, err := cached.Embed(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "second call should be served entirely from cache")
	assert.Equal(t, first, second)

	mixed, err := cached.Embed(ctx, []string{"hello", "new-text"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "only the uncached text should trigger an embed call")
	assert.Equal(t, first[0], mixed[0])
}

func TestCachedClient_Dimensions(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeClient{dims: 384}
	cached, err := NewCachedClient(inner, dir)
	require.NoError(t, err)
	defer cached.Close()

	assert.Equal(t, 384, cached.Dimensions())
}
