package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from an optional .env file and environment variables.
// prefix: Environment variable prefix (e.g. "COLLAB_")
// target: Pointer to the config struct to load into. Fields already set on
// target act as defaults.
func Load(prefix string, target interface{}) error {
	return LoadFile(".env", prefix, target)
}

// LoadFile is Load with an explicit config file path. An empty or missing
// file is not an error.
func LoadFile(path, prefix string, target interface{}) error {
	v := viper.New()

	// 1. Load from config file (if exists)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if strings.HasSuffix(path, ".env") {
				v.SetConfigType("env")
			}
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	// 2. Load from environment variables
	// Viper's AutomaticEnv doesn't work well with Unmarshal if keys aren't known,
	// so iterate env vars and populate viper directly.
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]

		if strings.HasPrefix(key, prefixUpper) {
			// COLLAB_DATABASE_HOST -> database.host
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
