package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	badger "github.com/dgraph-io/badger/v4"
)

// CachedClient wraps a Client with an on-disk badger cache keyed by a hash
// of the input text, so repeated ingestion/sleep passes over the same
// content (e.g. re-ingesting identical episodes) skip the embedding call
// entirely.
type CachedClient struct {
	inner Client
	db    *badger.DB
}

// NewCachedClient opens (or creates) a badger store at dir and wraps inner.
func NewCachedClient(inner Client, dir string) (*CachedClient, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return &CachedClient{inner: inner, db: db}, nil
}

func cacheKey(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// Embed looks up each text in the cache, embeds only the misses via inner,
// and writes new entries back before returning results in input order.
func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))

	err := c.db.View(func(txn *badger.Txn) error {
		for i, text := range texts {
			item, err := txn.Get(cacheKey(text))
			if err == badger.ErrKeyNotFound {
				missIdx = append(missIdx, i)
				continue
			}
			if err != nil {
				return err
			}
			if verr := item.Value(func(val []byte) error {
				results[i] = decodeVector(val)
				return nil
			}); verr != nil {
				return verr
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache read failed: %w", err)
	}

	if len(missIdx) == 0 {
		return results, nil
	}

	missTexts := make([]string, len(missIdx))
	for i, idx := range missIdx {
		missTexts[i] = texts[idx]
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for i, idx := range missIdx {
			results[idx] = embedded[i]
			if serr := txn.Set(cacheKey(missTexts[i]), encodeVector(embedded[i])); serr != nil {
				return serr
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache write failed: %w", err)
	}

	return results, nil
}

// EmbedSingle embeds a single text, consulting the cache first.
func (c *CachedClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions delegates to the wrapped client.
func (c *CachedClient) Dimensions() int { return c.inner.Dimensions() }

// Close closes the badger store and the wrapped client.
func (c *CachedClient) Close() error {
	if err := c.db.Close(); err != nil {
		return err
	}
	return c.inner.Close()
}
