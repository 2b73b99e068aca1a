package exchange

import (
	"encoding/json"
	"fmt"
	"os"
)

// VenueConfig is one exchange's credential and connection settings.
type VenueConfig struct {
	Name       string `json:"name"`
	APIKey     string `json:"apiKey"`
	APISecret  string `json:"apiSecret"`
	Testnet    bool   `json:"testnet"`
	RateLimitPerSecond int `json:"rateLimitPerSecond"`
}

// Config is the hydratable exchange section loaded by confkit.Section.
type Config struct {
	Venues []VenueConfig `json:"venues"`
}

// LoadConfig reads a JSON exchange config file. It's the hydrate function
// plugged into confkit.Section[Config] so exchange credentials can live in
// their own file outside the main engine config.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("exchange: read config %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("exchange: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// VenueByName looks up one venue's config, ok=false if absent.
func (c Config) VenueByName(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}
