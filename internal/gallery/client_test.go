package gallery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenJSON(tokenID, name, owner string) map[string]any {
	return map[string]any{
		"token": map[string]any{
			"tokenId": tokenID,
			"name":    name,
			"image":   "data:image/svg+xml;base64,AAA=",
			"owner":   owner,
		},
	}
}

func TestClient_ListFiltersByNamingConvention(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xCanvas", r.URL.Query().Get("collection"))
		json.NewEncoder(w).Encode(map[string]any{
			"tokens": []any{
				tokenJSON("703", "Pixel (3,7)", "0xAlice"),
				tokenJSON("100000", "Composite #1", "0xBob"),
				tokenJSON("42", "Totally Unrelated NFT", "0xEve"),
				tokenJSON("bogus", "Pixel (9,9)", "0xAlice"),
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "0xCanvas")
	require.NoError(t, err)

	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, int64(703), items[0].TokenID)
	assert.False(t, items[0].Composite)
	assert.Equal(t, int64(100000), items[1].TokenID)
	assert.True(t, items[1].Composite)
}

func TestClient_ListServesFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"tokens": []any{tokenJSON("703", "Pixel (3,7)", "0xAlice")},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "0xCanvas", WithCacheTTL(time.Hour))
	require.NoError(t, err)

	_, err = c.List(context.Background())
	require.NoError(t, err)
	_, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// Refresh bypasses the cache.
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_CacheExpires(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"tokens": []any{}})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "0xCanvas", WithCacheTTL(20*time.Millisecond))
	require.NoError(t, err)

	_, err = c.List(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.List(context.Background())
		require.NoError(t, err)
		return hits.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestClient_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("continuation") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"tokens":       []any{tokenJSON("1", "Pixel (1,0)", "0xA")},
				"continuation": "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tokens": []any{tokenJSON("2", "Pixel (2,0)", "0xB")},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "0xCanvas")
	require.NoError(t, err)

	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].TokenID)
	assert.Equal(t, int64(2), items[1].TokenID)
}

func TestClient_ListByOwner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/0xAlice/tokens/v6", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"tokens": []any{
				tokenJSON("703", "Pixel (3,7)", ""),
				tokenJSON("42", "Totally Unrelated NFT", ""),
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "0xCanvas")
	require.NoError(t, err)

	items, err := c.ListByOwner(context.Background(), "0xAlice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(703), items[0].TokenID)
	assert.Equal(t, "0xAlice", items[0].Owner)

	_, err = c.ListByOwner(context.Background(), "")
	require.Error(t, err)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "0xCanvas")
	require.NoError(t, err)

	_, err = c.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
