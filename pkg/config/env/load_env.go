package env

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file, typically holding
// backend connection strings that should stay out of shell history. The
// ENV_PATH environment variable overrides the default path. A missing file
// is only an error in local mode; anywhere else the variables are expected
// to come from the process environment.
func LoadDotEnv(appEnv string, defaultPath string) error {
	envPath := os.Getenv("ENV_PATH")
	if envPath == "" {
		envPath = defaultPath
	}

	if err := godotenv.Load(envPath); err != nil {
		if appEnv == "local" {
			slog.Error("Failed to load .env file in local mode", "path", envPath, "error", err)
			return err
		}
		slog.Debug("Skipping .env file", "path", envPath)
	}

	return nil
}
