// Package maps loads map descriptors. A descriptor is a small YAML file
// carrying what the host must know about a map without parsing the map
// archive itself: checksums, dimensions, option flags and the slot layout.
package maps

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/slot"
)

// Options are the map flags that constrain lobby slot changes.
type Options struct {
	FixedPlayerSettings bool `yaml:"fixed_player_settings"`
	CustomForces        bool `yaml:"custom_forces"`
	Observers           bool `yaml:"observers"`
}

// SlotDef is the default state of one slot.
type SlotDef struct {
	Status   string `yaml:"status"` // open, closed or computer
	Team     uint8  `yaml:"team"`
	Colour   uint8  `yaml:"colour"`
	Race     string `yaml:"race"`
	Skill    string `yaml:"skill"`
	Handicap uint8  `yaml:"handicap"`
}

// Map is a loaded descriptor.
type Map struct {
	Name     string    `yaml:"name"`
	Path     string    `yaml:"path"`
	File     string    `yaml:"file"`
	Size     uint32    `yaml:"size"`
	Info     uint32    `yaml:"info"`
	CRC      uint32    `yaml:"crc"`
	SHA1     string    `yaml:"sha1"`
	Width    uint16    `yaml:"width"`
	Height   uint16    `yaml:"height"`
	Flags    uint32    `yaml:"flags"`
	GameType uint32    `yaml:"game_type"`
	Stats    string    `yaml:"stats"`
	Options  Options   `yaml:"options"`
	Slots    []SlotDef `yaml:"slots"`

	data []byte
}

var races = map[string]slot.Race{
	"human":    slot.RaceHuman,
	"orc":      slot.RaceOrc,
	"nightelf": slot.RaceNightElf,
	"undead":   slot.RaceUndead,
	"random":   slot.RaceRandom,
	"":         slot.RaceRandom,
}

var skills = map[string]slot.Skill{
	"easy":   slot.SkillEasy,
	"normal": slot.SkillNormal,
	"":       slot.SkillNormal,
	"hard":   slot.SkillHard,
}

// Parse decodes and validates a descriptor.
func Parse(data []byte) (*Map, error) {
	m := &Map{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse map descriptor: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads a descriptor from path.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map descriptor: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// LoadDir loads every .yaml/.yml descriptor in dir keyed by map name.
// Invalid descriptors are logged and skipped.
func LoadDir(dir string) (map[string]*Map, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read maps directory: %w", err)
	}
	out := make(map[string]*Map)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		m, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping map descriptor")
			continue
		}
		out[strings.ToLower(m.Name)] = m
	}
	return out, nil
}

// Names returns the sorted map names of a LoadDir result.
func Names(all map[string]*Map) []string {
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the descriptor for values the session cannot work with.
func (m *Map) Validate() error {
	if m.Path == "" {
		return fmt.Errorf("map path is required")
	}
	if len(m.Slots) == 0 || len(m.Slots) > 24 {
		return fmt.Errorf("map must define 1-24 slots, got %d", len(m.Slots))
	}
	if m.SHA1 != "" {
		if b, err := hex.DecodeString(m.SHA1); err != nil || len(b) != 20 {
			return fmt.Errorf("sha1 must be 40 hex characters")
		}
	}
	for i, s := range m.Slots {
		switch s.Status {
		case "", "open", "closed", "computer":
		default:
			return fmt.Errorf("slot %d: unknown status %q", i, s.Status)
		}
		if _, ok := races[strings.ToLower(s.Race)]; !ok {
			return fmt.Errorf("slot %d: unknown race %q", i, s.Race)
		}
		if _, ok := skills[strings.ToLower(s.Skill)]; !ok {
			return fmt.Errorf("slot %d: unknown skill %q", i, s.Skill)
		}
		if s.Team > slot.ObserverTeam || s.Colour > slot.ObserverColour {
			return fmt.Errorf("slot %d: team/colour out of range", i)
		}
		if s.Handicap != 0 && !slot.ValidHandicap(s.Handicap) {
			return fmt.Errorf("slot %d: invalid handicap %d", i, s.Handicap)
		}
	}
	return nil
}

// Table builds the initial slot table.
func (m *Map) Table() slot.Table {
	t := make(slot.Table, len(m.Slots))
	for i, d := range m.Slots {
		race := races[strings.ToLower(d.Race)]
		if !m.Options.FixedPlayerSettings {
			race |= slot.RaceSelectable
		}
		h := d.Handicap
		if h == 0 {
			h = 100
		}
		t[i] = slot.Slot{Download: slot.DownloadUnknown, Status: slot.StatusOpen, Team: d.Team, Colour: d.Colour, Race: race, Skill: slot.SkillNormal, Handicap: h}
		switch d.Status {
		case "closed":
			t[i].Status = slot.StatusClosed
		case "computer":
			t.Computer(i, skills[strings.ToLower(d.Skill)])
		}
	}
	return t
}

// SlotOptions returns the slot mutation restrictions.
func (m *Map) SlotOptions() slot.Options {
	return slot.Options{FixedPlayerSettings: m.Options.FixedPlayerSettings, CustomForces: m.Options.CustomForces}
}

// PlayerSlots counts the non-observer slots.
func (m *Map) PlayerSlots() int {
	n := 0
	for _, s := range m.Slots {
		if s.Team != slot.ObserverTeam {
			n++
		}
	}
	return n
}

// AllowsObservers reports whether players may move to the observer team.
func (m *Map) AllowsObservers() bool {
	return m.Options.Observers || m.PlayerSlots() < len(m.Slots)
}

// MapInfo returns the identity clients verify in MAPCHECK.
func (m *Map) MapInfo() protocol.MapInfo {
	info := protocol.MapInfo{Path: m.Path, Size: m.Size, Info: m.Info, CRC: m.CRC}
	if b, err := hex.DecodeString(m.SHA1); err == nil && len(b) == 20 {
		copy(info.SHA1[:], b)
	}
	return info
}

// StatString returns the map description embedded in LAN advertisements.
func (m *Map) StatString(hostName string) protocol.StatString {
	mi := m.MapInfo()
	return protocol.StatString{
		MapFlags:  m.Flags,
		MapWidth:  m.Width,
		MapHeight: m.Height,
		MapCRC:    m.CRC,
		MapPath:   m.Path,
		HostName:  hostName,
		MapSHA1:   mi.SHA1,
	}
}

// LoadData reads the map file from dir so it can be served to downloaders.
// The file size must match the descriptor.
func (m *Map) LoadData(dir string) error {
	if m.File == "" {
		return fmt.Errorf("map %s has no file", m.Name)
	}
	data, err := os.ReadFile(filepath.Join(dir, m.File))
	if err != nil {
		return fmt.Errorf("failed to read map file: %w", err)
	}
	if uint32(len(data)) != m.Size {
		return fmt.Errorf("map file is %d bytes, descriptor says %d", len(data), m.Size)
	}
	m.data = data
	return nil
}

// SetData installs map bytes directly.
func (m *Map) SetData(data []byte) { m.data = data }

// Data returns the loaded map bytes, nil if none were loaded.
func (m *Map) Data() []byte { return m.data }
