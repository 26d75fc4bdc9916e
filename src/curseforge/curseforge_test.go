package curseforge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercore/launcher-core/src/httpclient"
)

func TestGetCategoriesParsesResponseAndSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"data":[{"id":1,"name":"Tech","iconUrl":"http://example.com/icon.png"}]}`))
	}))
	defer srv.Close()

	c := New(httpclient.New(), "test-key")
	c.baseURL = srv.URL

	categories, err := c.GetCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Tech", categories[0].Name)
	assert.Equal(t, "http://example.com/icon.png", categories[0].IconURL)
}

func TestSearchBuildsQueryAndParsesResults(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"id":42,"name":"SkyBlock","slug":"skyblock","summary":"A pack","downloadCount":100,"logo":{"thumbnailUrl":"http://example.com/logo.png"},"latestFiles":[{"downloadUrl":"http://example.com/file.zip"}]}]}`))
	}))
	defer srv.Close()

	c := New(httpclient.New(), "")
	c.baseURL = srv.URL

	results, err := c.Search(context.Background(), SearchFilter{
		Page:             1,
		SearchFilter:     "sky block",
		SelectedVersion:  "1.20.1",
		SelectedCategory: 5,
		SelectedSort:     "name",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "SkyBlock", results[0].Name)
	assert.Equal(t, "http://example.com/file.zip", results[0].DownloadURL)
	assert.Equal(t, 100, results[0].DownloadCount)

	assert.Contains(t, gotQuery, "searchFilter=sky+block")
	assert.Contains(t, gotQuery, "gameVersion=1.20.1")
	assert.Contains(t, gotQuery, "categoryId=5")
	assert.Contains(t, gotQuery, "sortField=name")
}

func TestSearchOmitsFilterVersionAndCategoryWhenUnset(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := New(httpclient.New(), "")
	c.baseURL = srv.URL

	_, err := c.Search(context.Background(), SearchFilter{})
	require.NoError(t, err)
	assert.NotContains(t, gotQuery, "gameVersion=")
	assert.NotContains(t, gotQuery, "categoryId=")
}

func TestSortFieldForFallsBackToPopularity(t *testing.T) {
	assert.Equal(t, "popularity", sortFieldFor("unknown"))
	assert.Equal(t, "name", sortFieldFor("name"))
	assert.Equal(t, "totalDownloads", sortFieldFor("totalDownloads"))
}

func TestGetPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(httpclient.New(), "")
	c.baseURL = srv.URL

	_, err := c.GetCategories(context.Background())
	assert.Error(t, err)
}
