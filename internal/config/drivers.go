package config

import (
	"encoding/json"
	"errors"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

func NewYAML(filePath string) YAML {
	return YAML{
		filePath: filePath,
	}
}

type YAML struct {
	filePath string
}

// Exists implements Driver.
func (y YAML) Exists() (bool, error) {
	return fileExists(y.filePath)
}

func (y YAML) Read() (Config, error) {
	file, err := os.Open(y.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig, nil
		}
		return Config{}, err
	}
	defer file.Close()

	cfg := defaultConfig
	err = yaml.NewDecoder(file).Decode(&cfg)
	return cfg, err
}

func (y YAML) Write(cfg Config) error {
	filePathTmp := y.filePath + ".tmp"
	file, err := os.OpenFile(filePathTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if err := yaml.NewEncoder(file).Encode(cfg); err != nil {
		file.Close()
		return err
	}
	file.Close()

	return os.Rename(filePathTmp, y.filePath)
}

func NewJSON(filePath string) JSON {
	return JSON{
		filePath: filePath,
	}
}

type JSON struct {
	filePath string
}

// Exists implements Driver.
func (j JSON) Exists() (bool, error) {
	return fileExists(j.filePath)
}

func (j JSON) Read() (Config, error) {
	file, err := os.Open(j.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig, nil
		}
		return Config{}, err
	}
	defer file.Close()

	cfg := defaultConfig
	err = json.NewDecoder(file).Decode(&cfg)
	return cfg, err
}

func (j JSON) Write(cfg Config) error {
	filePathTmp := j.filePath + ".tmp"
	file, err := os.OpenFile(filePathTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		file.Close()
		return err
	}
	file.Close()

	return os.Rename(filePathTmp, j.filePath)
}

// NewTOML mirrors YAML/JSON for the on-disk format chosen by the
// distro packaging scripts that ship this compositor (the video-wall
// ancestor never needed a third format; compositor configs commonly do).
func NewTOML(filePath string) TOML {
	return TOML{
		filePath: filePath,
	}
}

type TOML struct {
	filePath string
}

// Exists implements Driver.
func (t TOML) Exists() (bool, error) {
	return fileExists(t.filePath)
}

func (t TOML) Read() (Config, error) {
	file, err := os.Open(t.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig, nil
		}
		return Config{}, err
	}
	defer file.Close()

	cfg := defaultConfig
	err = toml.NewDecoder(file).Decode(&cfg)
	return cfg, err
}

func (t TOML) Write(cfg Config) error {
	filePathTmp := t.filePath + ".tmp"
	file, err := os.OpenFile(filePathTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		file.Close()
		return err
	}
	file.Close()

	return os.Rename(filePathTmp, t.filePath)
}

// NewDriver picks YAML, JSON, or TOML by filePath's extension, defaulting
// to YAML for an unrecognized or missing one.
func NewDriver(filePath string) Driver {
	switch ext(filePath) {
	case ".json":
		return NewJSON(filePath)
	case ".toml":
		return NewTOML(filePath)
	default:
		return NewYAML(filePath)
	}
}

func ext(filePath string) string {
	for i := len(filePath) - 1; i >= 0 && filePath[i] != '/'; i-- {
		if filePath[i] == '.' {
			return filePath[i:]
		}
	}
	return ""
}

// fileExists reports whether filePath exists, distinguishing a genuine
// stat error from "not found".
func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
