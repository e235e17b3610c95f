// Package config loads the YAML station-configuration document described
// in SPEC_FULL.md §6, the external collaborator spec.md §1 treats as an
// input at the boundary. Parsing uses gopkg.in/yaml.v3, grounded on the
// same library's use elsewhere in the retrieved pack for structured
// config documents.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Nguyen15idhue/ntrip-caster/internal/sourcetable"
)

// Mode is a station's source mode.
type Mode string

const (
	ModePull Mode = "pull"
	ModePush Mode = "push"
)

// Account is a rover's basic-auth credential pair.
type Account struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PullConfig holds the pull-mode upstream connection fields.
type PullConfig struct {
	RemoteHost       string  `yaml:"remote_host"`
	RemotePort       int     `yaml:"remote_port"`
	RemoteMountpoint string  `yaml:"remote_mountpoint"`
	Username         string  `yaml:"username"`
	Password         string  `yaml:"password"`
	GGALat           float64 `yaml:"gga_lat"`
	GGALon           float64 `yaml:"gga_lon"`
	GGAIntervalSecs  int     `yaml:"gga_interval_seconds"`
}

// PushConfig holds the push-mode source-password field.
type PushConfig struct {
	SourcePassword string `yaml:"source_password"`
}

// SourcetableConfig holds the structured CAS/NET/STR records SPEC_FULL.md
// §3's domain-stack addition allows in place of a flat sourcetable_body
// string. internal/sourcetable renders these to wire text; see
// Station.SourcetableResponseBody, which chooses between the two.
type SourcetableConfig struct {
	Casters  []sourcetable.CasterEntry  `yaml:"casters"`
	Networks []sourcetable.NetworkEntry `yaml:"networks"`
	Streams  []sourcetable.StreamEntry  `yaml:"streams"`
}

// Table renders c's records through internal/sourcetable.
func (c SourcetableConfig) Table() sourcetable.Table {
	return sourcetable.Table{
		Casters:  c.Casters,
		Networks: c.Networks,
		Streams:  c.Streams,
	}
}

// Station is one caster instance's full configuration.
type Station struct {
	Name            string            `yaml:"name"`
	Mode            Mode              `yaml:"mode"`
	ListenHost      string            `yaml:"listen_host"`
	ListenPort      int               `yaml:"listen_port"`
	Mountpoint      string            `yaml:"mountpoint"`
	SourcetableBody string            `yaml:"sourcetable_body"`
	Sourcetable     SourcetableConfig `yaml:"sourcetable"`
	Pull            PullConfig        `yaml:"pull"`
	Push            PushConfig        `yaml:"push"`
	RoverAccounts   []Account         `yaml:"rover_accounts"`
}

// SourcetableResponseBody resolves the sourcetable body text to serve for
// this station: the flat sourcetable_body string if configured, else the
// rendering of its structured sourcetable records (which may be empty).
func (s *Station) SourcetableResponseBody() string {
	if s.SourcetableBody != "" {
		return s.SourcetableBody
	}
	return s.Sourcetable.Table().Body()
}

// Document is the top-level configuration document: a shared rover
// account list plus the list of stations it can start.
type Document struct {
	RoverAccounts []Account `yaml:"rover_accounts"`
	Stations      []Station `yaml:"stations"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("validating config %q: %w", path, err)
	}
	return &doc, nil
}

func (d *Document) validate() error {
	seen := make(map[string]bool, len(d.Stations))
	for _, s := range d.Stations {
		if s.Name == "" {
			return fmt.Errorf("station missing name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate station name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Mode != ModePull && s.Mode != ModePush {
			return fmt.Errorf("station %q: mode must be %q or %q, got %q", s.Name, ModePull, ModePush, s.Mode)
		}
		if s.Mountpoint == "" {
			return fmt.Errorf("station %q: mountpoint is required", s.Name)
		}
		if s.ListenPort <= 0 {
			return fmt.Errorf("station %q: listen_port is required", s.Name)
		}
	}
	return nil
}

// Station looks up a station by name.
func (d *Document) Station(name string) (*Station, error) {
	for i := range d.Stations {
		if d.Stations[i].Name == name {
			return &d.Stations[i], nil
		}
	}
	return nil, fmt.Errorf("no station named %q in config", name)
}

// Accounts returns the effective rover account list for a station: the
// document-wide list plus any station-local additions.
func (d *Document) Accounts(s *Station) []Account {
	out := make([]Account, 0, len(d.RoverAccounts)+len(s.RoverAccounts))
	out = append(out, d.RoverAccounts...)
	out = append(out, s.RoverAccounts...)
	return out
}
