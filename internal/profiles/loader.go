// Package profiles loads loom model descriptions from YAML files.
package profiles

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinProfiles embed.FS

var ErrProfileNotFound = errors.New("profile not found")

type Profile struct {
	Loom       LoomInfo       `yaml:"loom"`
	Connection ConnectionInfo `yaml:"connection"`
	Simulator  SimulatorInfo  `yaml:"simulator"`
}

type LoomInfo struct {
	ID          string `yaml:"id"`
	Vendor      string `yaml:"vendor"`
	Model       string `yaml:"model"`
	Description string `yaml:"description"`
	ShaftCount  int    `yaml:"shaft_count"`
}

type ConnectionInfo struct {
	BaudRate   int    `yaml:"baud_rate"`
	Terminator string `yaml:"terminator"`
}

type SimulatorInfo struct {
	SettleDuration string `yaml:"settle_duration"`
	Version        string `yaml:"version"`
}

// ShaftMask has one bit set per shaft the loom has.
func (p *Profile) ShaftMask() uint32 {
	if p.Loom.ShaftCount >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<p.Loom.ShaftCount - 1
}

// TerminatorByte returns the line terminator, 0 if the profile leaves it unset.
func (p *Profile) TerminatorByte() byte {
	if p.Connection.Terminator == "" {
		return 0
	}
	return p.Connection.Terminator[0]
}

// SettleDuration returns 0 when the profile does not set one.
func (p *Profile) SettleDuration() time.Duration {
	d, _ := time.ParseDuration(p.Simulator.SettleDuration)
	return d
}

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load looks the profile up in the search paths first, then in the built-ins.
func (l *Loader) Load(name string) (*Profile, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*Profile), nil
	}

	data, source, err := l.find(name)
	if err != nil {
		return nil, err
	}

	profile, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", source, err)
	}

	l.cache.Store(name, profile)

	return profile, nil
}

func (l *Loader) find(name string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, name+".yaml")
		data, err := os.ReadFile(fullPath)
		if err == nil {
			return data, fullPath, nil
		}
	}

	builtin := "builtin/" + name + ".yaml"
	data, err := builtinProfiles.ReadFile(builtin)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s (searched in: %v)", ErrProfileNotFound, name, l.searchPaths)
	}
	return data, builtin, nil
}

// Parse validates raw YAML against the profile schema and decodes it.
func (l *Loader) Parse(data []byte) (*Profile, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert profile: %w", err)
	}

	if err := l.validator.ValidateProfile(asJSON); err != nil {
		return nil, err
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	if s := profile.Simulator.SettleDuration; s != "" {
		if _, err := time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("invalid settle_duration: %w", err)
		}
	}

	return &profile, nil
}
