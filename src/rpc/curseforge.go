package rpc

import (
	"context"

	"github.com/embercore/launcher-core/src/curseforge"
)

// CategoryView is one entry of get_curseforge_categories' response.
type CategoryView struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
}

// GetCurseforgeCategories lists every modpack category, per
// get_curseforge_categories.
func (s *Service) GetCurseforgeCategories(ctx context.Context) ([]CategoryView, error) {
	categories, err := s.curseforge.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]CategoryView, len(categories))
	for i, c := range categories {
		views[i] = CategoryView{ID: c.ID, Name: c.Name, IconURL: c.IconURL}
	}
	return views, nil
}

// CurseforgeSearchFilter mirrors search_curseforge's argument shape.
type CurseforgeSearchFilter struct {
	Page             int    `json:"page"`
	SearchFilter     string `json:"searchFilter"`
	SelectedVersion  string `json:"selectedVersion"`
	SelectedCategory int    `json:"selectedCategory"`
	SelectedSort     string `json:"selectedSort"`
}

// SearchCurseforge searches CurseForge modpacks, per search_curseforge.
func (s *Service) SearchCurseforge(ctx context.Context, filter CurseforgeSearchFilter) ([]curseforge.ModpackInformation, error) {
	return s.curseforge.Search(ctx, curseforge.SearchFilter{
		Page:             filter.Page,
		SearchFilter:     filter.SearchFilter,
		SelectedVersion:  filter.SelectedVersion,
		SelectedCategory: filter.SelectedCategory,
		SelectedSort:     filter.SelectedSort,
	})
}
