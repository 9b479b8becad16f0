// Package config persists the address bookmarks and analyzer
// preferences a caller has set for a given debuggee across process
// controller sessions.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"sort"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".bsdcore"
	configFile string = "config.yml"
)

// Config defines all configuration options persisted between runs.
type Config struct {
	// SpecifiedFunctions holds addresses the caller has explicitly
	// marked as function entry points (spec §4.H.1), stored as a
	// sorted list of "0x..." strings so the file diffs cleanly.
	SpecifiedFunctions []string `yaml:"specified-functions"`

	// FuzzyCache relaxes the analysis cache's fingerprint comparison
	// from an exact MD5 match to a size/permissions match (the
	// Analyzer's allowFuzzyMatch knob). This is independent of, and
	// never overrides, §4.K's own fuzzy rule: an analysis computed
	// while the debuggee was AttachedRunning is never reused from the
	// cache regardless of this setting.
	FuzzyCache bool `yaml:"fuzzy-cache"`

	// MaxCacheEntries bounds the analysis cache's LRU (K); 0 means use
	// the package default.
	MaxCacheEntries int `yaml:"max-cache-entries"`
}

// LoadConfig attempts to populate a Config object from config.yml,
// creating a default one on first run.
func LoadConfig() *Config {
	if err := createConfigPath(); err != nil {
		fmt.Printf("Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Printf("Closing config file failed: %v.\n", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.\n", err)
		return &Config{}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Printf("Unable to decode config file: %v.\n", err)
		return &Config{}
	}
	return &c
}

// SaveConfig marshals and saves the config struct to disk, sorting
// SpecifiedFunctions so repeated saves of the same set produce an
// identical file.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	sorted := append([]string(nil), conf.SpecifiedFunctions...)
	sort.Strings(sorted)
	toSave := *conf
	toSave.SpecifiedFunctions = sorted

	out, err := yaml.Marshal(toSave)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	if err := writeDefaultConfig(f); err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for bsdcore.

# Addresses the caller has marked as function entry points, used to
# seed the static analyzer ahead of heuristic discovery (H.1).
specified-functions:
  # - "0x401000"

# Whether a cached region analysis may be reused when only its
# size/permissions match, instead of requiring an exact content hash.
# Does not affect the analyzer's own rule that an analysis computed
# while the debuggee was running is never reused from the cache.
fuzzy-cache: false

# Maximum number of region analyses held in the LRU cache. 0 uses the
# package default.
max-cache-entries: 0
`)
	return err
}

// createConfigPath creates the directory structure config files live in.
func createConfigPath() error {
	dir, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	if usr, err := user.Current(); err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
