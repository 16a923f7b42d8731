// Package catalog loads the office reference data (categories, windows and
// staff specializations) from a TOML seed file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

type File struct {
	Categories []Category `toml:"categories"`
	Windows    []Window   `toml:"windows"`
	Staff      []Staff    `toml:"staff"`
}

type Category struct {
	ID            string        `toml:"id"`
	Name          string        `toml:"name"`
	SubCategories []SubCategory `toml:"subcategories"`
}

type SubCategory struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type Window struct {
	ID     string `toml:"id"`
	Number int    `toml:"number"`
	Name   string `toml:"name"`
}

type Staff struct {
	ID         string   `toml:"id"`
	Categories []string `toml:"categories"`
}

type Stats struct {
	Categories    int `json:"categories"`
	SubCategories int `json:"sub_categories"`
	Windows       int `json:"windows"`
	Staff         int `json:"staff"`
}

func Load(path string) (File, error) {
	file, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()
	return Decode(file)
}

func Decode(r io.Reader) (File, error) {
	var f File
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks ids are present and unique, window numbers are positive and
// unique, and staff only reference categories declared in the same file.
func (f File) Validate() error {
	var errs []error
	categories := make(map[string]bool, len(f.Categories))
	subs := make(map[string]bool)
	for _, category := range f.Categories {
		id := strings.TrimSpace(category.ID)
		switch {
		case id == "":
			errs = append(errs, errors.New("category with empty id"))
		case categories[id]:
			errs = append(errs, fmt.Errorf("duplicate category %s", id))
		}
		categories[id] = true
		for _, sub := range category.SubCategories {
			subID := strings.TrimSpace(sub.ID)
			switch {
			case subID == "":
				errs = append(errs, fmt.Errorf("category %s has a subcategory with empty id", id))
			case subs[subID]:
				errs = append(errs, fmt.Errorf("duplicate subcategory %s", subID))
			}
			subs[subID] = true
		}
	}

	windowIDs := make(map[string]bool, len(f.Windows))
	numbers := make(map[int]string, len(f.Windows))
	for _, window := range f.Windows {
		id := strings.TrimSpace(window.ID)
		if id == "" {
			errs = append(errs, errors.New("window with empty id"))
		} else if windowIDs[id] {
			errs = append(errs, fmt.Errorf("duplicate window %s", id))
		}
		windowIDs[id] = true
		if window.Number < 1 {
			errs = append(errs, fmt.Errorf("window %s: number must be positive", id))
		} else if other, ok := numbers[window.Number]; ok {
			errs = append(errs, fmt.Errorf("windows %s and %s share number %d", other, id, window.Number))
		}
		numbers[window.Number] = id
	}

	for _, staff := range f.Staff {
		if strings.TrimSpace(staff.ID) == "" {
			errs = append(errs, errors.New("staff entry with empty id"))
		}
		for _, categoryID := range staff.Categories {
			if !categories[strings.TrimSpace(categoryID)] {
				errs = append(errs, fmt.Errorf("staff %s references unknown category %s", staff.ID, categoryID))
			}
		}
	}
	return errors.Join(errs...)
}

// Apply upserts everything in f. Staff specializations are replaced, not merged.
func Apply(ctx context.Context, st store.CatalogStore, f File) (Stats, error) {
	var stats Stats
	for _, category := range f.Categories {
		categoryID := strings.TrimSpace(category.ID)
		if err := st.UpsertCategory(ctx, models.Category{ID: categoryID, Name: strings.TrimSpace(category.Name)}); err != nil {
			return stats, fmt.Errorf("category %s: %w", categoryID, err)
		}
		stats.Categories++
		for _, sub := range category.SubCategories {
			subID := strings.TrimSpace(sub.ID)
			if err := st.UpsertSubCategory(ctx, models.SubCategory{ID: subID, CategoryID: categoryID, Name: strings.TrimSpace(sub.Name)}); err != nil {
				return stats, fmt.Errorf("subcategory %s: %w", subID, err)
			}
			stats.SubCategories++
		}
	}
	for _, window := range f.Windows {
		windowID := strings.TrimSpace(window.ID)
		name := strings.TrimSpace(window.Name)
		if name == "" {
			name = fmt.Sprintf("Window %d", window.Number)
		}
		if err := st.UpsertWindow(ctx, models.Window{ID: windowID, Number: window.Number, Name: name}); err != nil {
			return stats, fmt.Errorf("window %s: %w", windowID, err)
		}
		stats.Windows++
	}
	for _, staff := range f.Staff {
		staffID := strings.TrimSpace(staff.ID)
		categoryIDs := make([]string, 0, len(staff.Categories))
		for _, id := range staff.Categories {
			categoryIDs = append(categoryIDs, strings.TrimSpace(id))
		}
		if err := st.SetStaffCategories(ctx, staffID, categoryIDs); err != nil {
			return stats, fmt.Errorf("staff %s: %w", staffID, err)
		}
		stats.Staff++
	}
	return stats, nil
}
