package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotenvIfPresent reads .env for local runs. Variables already set in the
// environment win, and nothing is read when TARPAULIN_ENV=production.
func LoadDotenvIfPresent() error {
	if strings.EqualFold(os.Getenv("TARPAULIN_ENV"), "production") {
		return nil
	}
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(".env")
}
