package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vanshika/wastelca/internal/domain"
)

// SlotProfiles lists the slot kinds each movement direction carries.
type SlotProfiles map[domain.Direction][]domain.SlotKind

// DefaultSlotProfiles returns the built-in profile set.
func DefaultSlotProfiles() SlotProfiles {
	return SlotProfiles{
		domain.DirectionInbound:  {domain.SlotLineItem, domain.SlotClient, domain.SlotVehicle},
		domain.DirectionOutbound: {domain.SlotLineItem, domain.SlotClient, domain.SlotSecondaryClient, domain.SlotVehicle},
	}
}

type slotProfileFile struct {
	Profiles map[string][]string `yaml:"profiles"`
}

// LoadSlotProfiles reads a YAML file of the form
//
//	profiles:
//	  inbound: [line_item, client, vehicle]
//	  outbound: [line_item, client, secondary_client, vehicle]
//
// An empty path returns the defaults. Directions missing from the file keep their default.
func LoadSlotProfiles(path string) (SlotProfiles, error) {
	profiles := DefaultSlotProfiles()
	if path == "" {
		return profiles, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read slot profiles: %w", err)
	}
	parsed, err := ParseSlotProfiles(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for dir, kinds := range parsed {
		profiles[dir] = kinds
	}
	return profiles, nil
}

// ParseSlotProfiles decodes profile YAML without applying defaults.
func ParseSlotProfiles(raw []byte) (SlotProfiles, error) {
	var file slotProfileFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode slot profiles: %w", err)
	}

	out := make(SlotProfiles, len(file.Profiles))
	for name, values := range file.Profiles {
		dir := domain.Direction(name)
		if dir == domain.DirectionAny || !dir.Valid() {
			return nil, fmt.Errorf("unknown direction %q", name)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("profile %s lists no slots", name)
		}
		seen := make(map[domain.SlotKind]bool, len(values))
		for _, value := range values {
			kind, err := domain.ParseSlotKind(value)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", name, err)
			}
			if seen[kind] {
				continue
			}
			seen[kind] = true
			out[dir] = append(out[dir], kind)
		}
	}
	return out, nil
}

// For returns the slot kinds for a direction. An unknown or empty direction
// gets the inbound profile.
func (p SlotProfiles) For(dir domain.Direction) []domain.SlotKind {
	if kinds, ok := p[dir]; ok {
		return append([]domain.SlotKind(nil), kinds...)
	}
	return append([]domain.SlotKind(nil), p[domain.DirectionInbound]...)
}
