package database

import "tagconsent/internal/platform/config"

func configWithoutURL() config.DatabaseConfig {
	return config.Default().Database
}
