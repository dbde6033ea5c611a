// Package config loads the cardscan TOML configuration and supplies
// compiled-in defaults when no file is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"cardscan/pkg/geometry"
)

// Crop contains geometric cropper settings.
type Crop struct {
	// Margin is the pixel margin added around the detected bounding box.
	Margin int `toml:"margin"`
	// BackWidthFrac/BackHeightFrac define the deterministic center crop
	// used for card backs.
	BackWidthFrac  float64 `toml:"back_width_frac"`
	BackHeightFrac float64 `toml:"back_height_frac"`
	// MinDeskewDegrees is the angle below which rotation is skipped to
	// avoid resampling blur on already-straight photos.
	MinDeskewDegrees float64 `toml:"min_deskew_degrees"`
}

// Thresholds contains the acceptance cutoffs for the identification paths.
// The memory fast path and the feature matcher are deliberately on
// different scales: hash similarity runs 0..1 while ORB scores rarely
// exceed 0.5 even for an exact print.
type Thresholds struct {
	MemoryAccept  float64 `toml:"memory_accept"`
	HashProximity float64 `toml:"hash_proximity"`
	AutoAccept    float64 `toml:"auto_accept"`
	DisplayMin    float64 `toml:"display_min"`
}

// Match contains ORB feature-matching settings.
type Match struct {
	ORBFeatures       int     `toml:"orb_features"`
	GoodMatchDistance float64 `toml:"good_match_distance"`
}

// OCR contains number-region settings per set, keyed by normalized set code.
// The DEFAULT entry applies to sets without an explicit region.
type OCR struct {
	Regions map[string]geometry.FracRect `toml:"regions"`
}

// Config is the root configuration.
type Config struct {
	CatalogRoot string     `toml:"catalog_root"`
	OutputDir   string     `toml:"output_dir"`
	Crop        Crop       `toml:"crop"`
	Thresholds  Thresholds `toml:"thresholds"`
	Match       Match      `toml:"match"`
	OCR         OCR        `toml:"ocr"`
}

// defaultRegion is the bottom-left number strip used when no configuration
// exists at all. Matches the modern set layout.
var defaultRegion = geometry.FracRect{XStart: 0.0, XEnd: 0.4, YStart: 0.9, YEnd: 1.0}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		CatalogRoot: filepath.Join("PokemonCardLists", "Card_Sets"),
		OutputDir:   "Renamed_Cropped",
		Crop: Crop{
			Margin:           20,
			BackWidthFrac:    0.40,
			BackHeightFrac:   0.95,
			MinDeskewDegrees: 1.0,
		},
		Thresholds: Thresholds{
			MemoryAccept:  0.85,
			HashProximity: 0.30,
			AutoAccept:    0.25,
			DisplayMin:    0.15,
		},
		Match: Match{
			ORBFeatures:       2000,
			GoodMatchDistance: 50,
		},
		OCR: OCR{
			Regions: map[string]geometry.FracRect{
				"DEFAULT": defaultRegion,
			},
		},
	}
}

// Load reads the configuration from path. An empty path resolves to
// ~/.config/cardscan/config.toml. A missing file yields defaults.
func Load(path string) (*Config, error) {
	resolved := path
	if resolved == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			configDir = filepath.Join(os.Getenv("HOME"), ".config")
		}
		resolved = filepath.Join(configDir, "cardscan", "config.toml")
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", resolved, err)
	}
	return cfg, nil
}

// Validate rejects thresholds and fractions outside their meaningful ranges.
func (c *Config) Validate() error {
	checkUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
		return nil
	}
	for name, v := range map[string]float64{
		"thresholds.memory_accept":  c.Thresholds.MemoryAccept,
		"thresholds.hash_proximity": c.Thresholds.HashProximity,
		"thresholds.auto_accept":    c.Thresholds.AutoAccept,
		"thresholds.display_min":    c.Thresholds.DisplayMin,
		"crop.back_width_frac":      c.Crop.BackWidthFrac,
		"crop.back_height_frac":     c.Crop.BackHeightFrac,
	} {
		if err := checkUnit(name, v); err != nil {
			return err
		}
	}
	if c.Crop.Margin < 0 {
		return fmt.Errorf("crop.margin must be >= 0, got %d", c.Crop.Margin)
	}
	if c.Match.ORBFeatures <= 0 {
		return fmt.Errorf("match.orb_features must be positive, got %d", c.Match.ORBFeatures)
	}
	for key, region := range c.OCR.Regions {
		if !region.Valid() {
			return fmt.Errorf("ocr.regions.%s has invalid bounds", key)
		}
	}
	return nil
}

// NormalizeSetKey maps a set code to its region-table key: uppercase with
// dots removed, so "sv03.5" and "SV035" address the same entry.
func NormalizeSetKey(setCode string) string {
	return strings.ToUpper(strings.ReplaceAll(setCode, ".", ""))
}

// NumberRegion returns the fractional number-region bounds for a set,
// falling back to the DEFAULT entry and finally the hardcoded strip.
func (c *Config) NumberRegion(setCode string) geometry.FracRect {
	if region, ok := c.OCR.Regions[NormalizeSetKey(setCode)]; ok {
		return region
	}
	if region, ok := c.OCR.Regions[strings.ToUpper(setCode)]; ok {
		return region
	}
	if region, ok := c.OCR.Regions["DEFAULT"]; ok {
		return region
	}
	return defaultRegion
}
