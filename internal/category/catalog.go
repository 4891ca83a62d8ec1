// Package category хранит допустимые категории инцидентов и их
// параметры корроборации.
package category

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Category - категория инцидента. Нулевые значения означают глобальные настройки.
type Category struct {
	Name                  string  `yaml:"name"`
	SpatialRadiusMeters   float64 `yaml:"spatial_radius_meters"`
	TemporalWindowMinutes int     `yaml:"temporal_window_minutes"`
}

type file struct {
	Categories []Category `yaml:"categories"`
}

var defaultNames = []string{
	"flood", "fire", "accident", "road_hazard", "weather", "power_outage", "crime", "other",
}

// Catalog - набор категорий по нормализованному имени
type Catalog struct {
	byName map[string]Category
}

// Default возвращает встроенный каталог
func Default() *Catalog {
	cats := make([]Category, len(defaultNames))
	for i, n := range defaultNames {
		cats[i] = Category{Name: n}
	}
	c, _ := New(cats)
	return c
}

// New строит каталог из списка категорий
func New(cats []Category) (*Catalog, error) {
	if len(cats) == 0 {
		return nil, errors.New("category catalog is empty")
	}
	c := &Catalog{byName: make(map[string]Category, len(cats))}
	for _, cat := range cats {
		name := Normalize(cat.Name)
		if name == "" {
			return nil, errors.New("category name is required")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("duplicate category %q", name)
		}
		if cat.SpatialRadiusMeters < 0 || cat.TemporalWindowMinutes < 0 {
			return nil, fmt.Errorf("category %q has negative overrides", name)
		}
		cat.Name = name
		c.byName[name] = cat
	}
	return c, nil
}

// Load читает каталог из YAML файла. Пустой путь - встроенный каталог.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read categories file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML каталога
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("could not parse categories: %w", err)
	}
	return New(f.Categories)
}

// Normalize приводит имя к ключу каталога
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Lookup ищет категорию по имени
func (c *Catalog) Lookup(name string) (Category, bool) {
	cat, ok := c.byName[Normalize(name)]
	return cat, ok
}

// Names возвращает отсортированные имена категорий
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Radius возвращает радиус категории или fallback
func (cat Category) Radius(fallback float64) float64 {
	if cat.SpatialRadiusMeters > 0 {
		return cat.SpatialRadiusMeters
	}
	return fallback
}

// Window возвращает временное окно категории или fallback
func (cat Category) Window(fallback time.Duration) time.Duration {
	if cat.TemporalWindowMinutes > 0 {
		return time.Duration(cat.TemporalWindowMinutes) * time.Minute
	}
	return fallback
}
