package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// TariffEntry is one priced service in a tariff file. An empty name prices
// every service of the category without a more specific entry.
type TariffEntry struct {
	Category string `mapstructure:"category"`
	Name     string `mapstructure:"name"`
	Price    int64  `mapstructure:"price"`
}

// LoadTariff reads the "services" list from a YAML, JSON, or TOML tariff
// file; the format follows the file extension.
func LoadTariff(path string) ([]TariffEntry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read tariff %s: %w", path, err)
	}
	var entries []TariffEntry
	if err := v.UnmarshalKey("services", &entries); err != nil {
		return nil, fmt.Errorf("unmarshal tariff %s: %w", path, err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Category) == "" {
			return nil, fmt.Errorf("tariff %s: services[%d] has no category", path, i)
		}
		if e.Price < 0 {
			return nil, fmt.Errorf("tariff %s: services[%d] price must not be negative", path, i)
		}
	}
	return entries, nil
}
