// Package curseforge is a read-only adapter over the public CurseForge
// API for category listing and modpack search, per §6's
// get_curseforge_categories/search_curseforge. It never participates
// in the launch path (§7's CurseForge surface note). Requests go
// through the shared client's Raw() *http.Client rather than through
// GetJSON.
package curseforge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/launchererr"
)

const (
	defaultAPIBaseURL = "https://api.curseforge.com"
	minecraftGameID   = 432
	modpackClassID    = 4471
)

// Category is one entry of get_curseforge_categories.
type Category struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
}

// ModpackInformation is one entry of search_curseforge's result.
type ModpackInformation struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Summary     string `json:"summary"`
	LogoURL     string `json:"logoUrl"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	DownloadCount int  `json:"downloadCount"`
}

// SearchFilter is the argument shape of search_curseforge.
type SearchFilter struct {
	Page             int
	SearchFilter     string
	SelectedVersion  string
	SelectedCategory int
	SelectedSort     string
}

// Client is a thin, read-only wrapper over the CurseForge REST API.
type Client struct {
	http    *httpclient.Client
	apiKey  string
	baseURL string
}

// New builds a Client. apiKey is the CurseForge "Eternal" API key;
// requests are sent unauthenticated (apiKey == "") against endpoints
// that tolerate it, but most CurseForge deployments require one.
func New(http *httpclient.Client, apiKey string) *Client {
	return &Client{http: http, apiKey: apiKey, baseURL: defaultAPIBaseURL}
}

type categoriesResponse struct {
	Data []struct {
		ID          int    `json:"id"`
		Name        string `json:"name"`
		IconURL     string `json:"iconUrl"`
		ClassID     int    `json:"classId"`
		IsClass     bool   `json:"isClass"`
	} `json:"data"`
}

// GetCategories returns the modpack category tree for Minecraft.
func (c *Client) GetCategories(ctx context.Context) ([]Category, error) {
	requestURL := fmt.Sprintf("%s/v1/categories?gameId=%d&classId=%d", c.baseURL, minecraftGameID, modpackClassID)
	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var resp categoriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse curseforge categories", err)
	}

	categories := make([]Category, 0, len(resp.Data))
	for _, entry := range resp.Data {
		categories = append(categories, Category{ID: entry.ID, Name: entry.Name, IconURL: entry.IconURL})
	}
	return categories, nil
}

type searchResponse struct {
	Data []struct {
		ID            int    `json:"id"`
		Name          string `json:"name"`
		Slug          string `json:"slug"`
		Summary       string `json:"summary"`
		DownloadCount int    `json:"downloadCount"`
		Logo          struct {
			ThumbnailURL string `json:"thumbnailUrl"`
		} `json:"logo"`
		LatestFiles []struct {
			DownloadURL string `json:"downloadUrl"`
		} `json:"latestFiles"`
	} `json:"data"`
}

// Search runs a modpack search, per §6's search_curseforge.
func (c *Client) Search(ctx context.Context, filter SearchFilter) ([]ModpackInformation, error) {
	requestURL := fmt.Sprintf("%s/v1/mods/search?gameId=%d&classId=%d&index=%d&searchFilter=%s&sortField=%s",
		c.baseURL, minecraftGameID, modpackClassID, filter.Page*searchPageSize,
		url.QueryEscape(filter.SearchFilter), sortFieldFor(filter.SelectedSort))
	if filter.SelectedVersion != "" {
		requestURL += "&gameVersion=" + url.QueryEscape(filter.SelectedVersion)
	}
	if filter.SelectedCategory != 0 {
		requestURL += fmt.Sprintf("&categoryId=%d", filter.SelectedCategory)
	}

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse curseforge search response", err)
	}

	results := make([]ModpackInformation, 0, len(resp.Data))
	for _, m := range resp.Data {
		info := ModpackInformation{
			ID:            m.ID,
			Name:          m.Name,
			Slug:          m.Slug,
			Summary:       m.Summary,
			LogoURL:       m.Logo.ThumbnailURL,
			DownloadCount: m.DownloadCount,
		}
		if len(m.LatestFiles) > 0 {
			info.DownloadURL = m.LatestFiles[0].DownloadURL
		}
		results = append(results, info)
	}
	return results, nil
}

const searchPageSize = 20

func sortFieldFor(sort string) string {
	switch sort {
	case "popularity", "name", "lastUpdated", "totalDownloads":
		return sort
	default:
		return "popularity"
	}
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "build curseforge request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Raw().Do(req)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "curseforge request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, launchererr.Wrap(launchererr.Network, fmt.Sprintf("curseforge request failed (%d)", resp.StatusCode), nil)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "read curseforge response", err)
	}
	return raw, nil
}
