// Package inventory loads probe targets from YAML inventory files.
package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// Defaults are inventory-wide values applied to entries that leave the
// corresponding field empty.
type Defaults struct {
	User         string   `yaml:"user"`
	Port         int      `yaml:"port"`
	Password     string   `yaml:"password"`
	IdentityFile string   `yaml:"identity_file"`
	Destinations []string `yaml:"destinations"`
}

// Entry is one host in the inventory.
type Entry struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	IdentityFile string   `yaml:"identity_file"`
	Label        string   `yaml:"label"`
	Destinations []string `yaml:"destinations"`
}

// File is the top-level inventory document.
type File struct {
	Defaults Defaults `yaml:"defaults"`
	Targets  []Entry  `yaml:"targets"`
}

// Load parses the inventory file at path into probe targets, applying the
// inventory defaults and validating every entry.
func Load(path string) ([]target.Target, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return Parse(content)
}

// Parse parses inventory YAML content into probe targets.
func Parse(content []byte) ([]target.Target, error) {
	var file File
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("inventory contains no targets")
	}

	targets := make([]target.Target, 0, len(file.Targets))
	for i, entry := range file.Targets {
		t, err := convert(entry, file.Defaults)
		if err != nil {
			return nil, fmt.Errorf("inventory target %d (%s): %w", i+1, entry.Host, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func convert(entry Entry, defaults Defaults) (target.Target, error) {
	t := target.Target{
		Host:         entry.Host,
		Port:         entry.Port,
		User:         entry.User,
		Password:     entry.Password,
		IdentityFile: entry.IdentityFile,
		Label:        entry.Label,
		Destinations: entry.Destinations,
		Original:     entry.Host,
	}

	if t.User == "" {
		t.User = defaults.User
	}
	if t.User == "" {
		t.User = "root"
	}
	if t.Port == 0 {
		t.Port = defaults.Port
	}
	if t.Port == 0 {
		t.Port = 22
	}
	if t.Password == "" {
		t.Password = defaults.Password
	}
	if t.IdentityFile == "" {
		t.IdentityFile = defaults.IdentityFile
	}
	if len(t.Destinations) == 0 {
		t.Destinations = append([]string(nil), defaults.Destinations...)
	}

	if err := target.ValidateTarget(t); err != nil {
		return target.Target{}, err
	}
	return t, nil
}
