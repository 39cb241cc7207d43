package device

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk device list loaded at startup.
//
// Example:
//
//	devices:
//	  - id: "4f1c"
//	    name: "Kitchen lamp"
//	    kind: big_lamp
//	  - id: "a77e"
//	    name: "Robot cleaner"
//	    kind: cleaner
//	    human_control: 1h
//	  - id: "b001"
//	    name: "Balcony sensor"
//	    ping: false
//	    slow_link: true
type Catalog struct {
	Devices []CatalogEntry `yaml:"devices"`
}

// CatalogEntry describes one device in the catalogue file.
type CatalogEntry struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	Ping         *bool         `yaml:"ping"`
	SlowLink     bool          `yaml:"slow_link"`
	HumanControl time.Duration `yaml:"human_control"`
	Mutation     string        `yaml:"mutation"`
	Exclusions   Exclusions    `yaml:"exclusions"`
}

// kindProfile carries the behaviour implied by a device kind.
type kindProfile struct {
	exclusions Exclusions
	mutation   string
}

var kindProfiles = map[string]kindProfile{
	"":            {},
	"switch":      {},
	"lamp":        {},
	"colour_lamp": {},
	"big_lamp":    {mutation: "brightness_tolerance"},
	"curtain":     {},
	"humidifier":  {},
	"sensor":      {},
	"button":      {},
	// Cleaners switch themselves off when docking.
	"cleaner": {exclusions: Exclusions{{Type: CapabilityOnOff, Instance: InstanceOn}}},
}

// ParseCatalog decodes catalogue YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing device catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog reads and decodes a catalogue file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Apply registers every catalogue entry with the registry.
//
// Returns:
//   - int: number of devices registered
//   - error: first entry that failed, wrapped with its ID
func (c *Catalog) Apply(r *Registry) (int, error) {
	for i, e := range c.Devices {
		profile, ok := kindProfiles[e.Kind]
		if !ok {
			return i, fmt.Errorf("device %s: %w: %q", e.ID, ErrUnknownKind, e.Kind)
		}

		ping := true
		if e.Ping != nil {
			ping = *e.Ping
		}

		d := Device{
			ID:           e.ID,
			Name:         e.Name,
			Ping:         ping,
			SlowLink:     e.SlowLink,
			HumanControl: e.HumanControl,
			Exclusions:   profile.exclusions.Merge(e.Exclusions),
		}
		if err := r.Register(d); err != nil {
			return i, fmt.Errorf("device %s: %w", e.ID, err)
		}

		name := e.Mutation
		if name == "" {
			name = profile.mutation
		}
		if name != "" {
			m, ok := LookupMutation(name)
			if !ok {
				return i, fmt.Errorf("device %s: %w: %q", e.ID, ErrUnknownMutation, name)
			}
			if err := r.SetMutation(e.ID, m); err != nil {
				return i, err
			}
		}
	}
	return len(c.Devices), nil
}
