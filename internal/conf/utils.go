// conf/utils.go path helpers for the configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/i2score/internal/errors"
)

const osWindows = "windows"

// ConfigFileName is the file searched for in the default config paths.
const ConfigFileName = "config.yaml"

// GetDefaultConfigPaths returns the directories searched for config.yaml. When
// one of them already holds the file only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "i2score"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "i2score"),
			"/etc/i2score",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, ConfigFileName)); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// FindConfigFile returns the first config.yaml found in the default paths.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "find-config-paths").
			Build()
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, ConfigFileName)
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}
