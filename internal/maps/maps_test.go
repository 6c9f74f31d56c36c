package maps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/energizer-project/relayhost/internal/slot"
)

const dotaDescriptor = `
name: dota
path: Maps\Download\DotA.w3x
file: dota.w3x
size: 4
crc: 305419896
sha1: 0102030405060708090a0b0c0d0e0f1011121314
width: 116
height: 116
flags: 67
stats: dota
options:
  fixed_player_settings: true
  custom_forces: true
slots:
  - {team: 0, colour: 1, race: nightelf}
  - {team: 1, colour: 7, race: undead}
  - {team: 12, colour: 12, status: closed}
  - {team: 1, colour: 8, status: computer, skill: hard}
`

func TestParseDescriptor(t *testing.T) {
	m, err := Parse([]byte(dotaDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tb := m.Table()
	if len(tb) != 4 {
		t.Fatalf("%d slots", len(tb))
	}
	if tb[0].Race != slot.RaceNightElf || tb[0].Status != slot.StatusOpen || tb[0].Colour != 1 {
		t.Fatalf("slot 0 = %+v", tb[0])
	}
	if tb[2].Status != slot.StatusClosed || !tb[2].Observer() {
		t.Fatalf("slot 2 = %+v", tb[2])
	}
	if !tb[3].Computer || tb[3].Skill != slot.SkillHard || tb[3].Download != 100 {
		t.Fatalf("slot 3 = %+v", tb[3])
	}
	if m.PlayerSlots() != 3 {
		t.Fatalf("player slots = %d", m.PlayerSlots())
	}
	if !m.AllowsObservers() {
		t.Fatal("observer slot not detected")
	}
	if !m.SlotOptions().FixedPlayerSettings || m.MapInfo().SHA1[19] != 0x14 {
		t.Fatal("options or sha1 lost")
	}
}

func TestValidateRejects(t *testing.T) {
	bad := []string{
		"path: x\nslots: []",
		"slots: [{team: 0}]",
		"path: x\nsha1: zz\nslots: [{team: 0}]",
		"path: x\nslots: [{team: 0, race: dwarf}]",
		"path: x\nslots: [{team: 0, handicap: 55}]",
	}
	for _, b := range bad {
		if _, err := Parse([]byte(b)); err == nil {
			t.Fatalf("accepted %q", b)
		}
	}
}

func TestLoadDirAndData(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "dota.yaml"), []byte(dotaDescriptor), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("::"), 0o644)
	os.WriteFile(filepath.Join(dir, "dota.w3x"), []byte{1, 2, 3, 4}, 0o644)

	all, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	m, ok := all["dota"]
	if !ok || len(all) != 1 {
		t.Fatalf("maps = %v", Names(all))
	}
	if err := m.LoadData(dir); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(m.Data()) != 4 {
		t.Fatal("data not loaded")
	}
	m.Size = 5
	if err := m.LoadData(dir); err == nil {
		t.Fatal("size mismatch accepted")
	}
}
