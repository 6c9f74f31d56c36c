package slot

import "strings"

// HCLAlphabet is the set of characters a handicap-encoded command may use.
const HCLAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789 -=,."

// hclMap holds every byte value that is not itself a real handicap (or zero),
// in ascending order. A command character c paired with real handicap h is
// stored as hclMap[(h-50)/10 + index(c)*6].
var hclMap = func() []uint8 {
	out := make([]uint8, 0, 256)
	for v := 0; v < 256; v++ {
		b := uint8(v)
		if b == 0 || ValidHandicap(b) {
			continue
		}
		out = append(out, b)
	}
	return out
}()

// ValidHCL reports whether cmd can be encoded into a table with the given
// number of occupied slots.
func ValidHCL(cmd string, occupied int) bool {
	if len(cmd) > occupied {
		return false
	}
	for _, r := range strings.ToLower(cmd) {
		if !strings.ContainsRune(HCLAlphabet, r) {
			return false
		}
	}
	return true
}

// EncodeHCL hides cmd inside the handicap bytes of the occupied slots, one
// character per slot in table order. The transform is one-way for clients;
// only the map script reads it back. Returns false and leaves the table
// untouched if cmd does not fit.
func (t Table) EncodeHCL(cmd string) bool {
	cmd = strings.ToLower(cmd)
	if cmd == "" || !ValidHCL(cmd, t.Count(StatusOccupied)) {
		return false
	}
	pos := 0
	for i := range t {
		if pos >= len(cmd) {
			break
		}
		if t[i].Status != StatusOccupied {
			continue
		}
		h := t[i].Handicap
		if !ValidHandicap(h) {
			h = 100
		}
		c := strings.IndexByte(HCLAlphabet, cmd[pos])
		t[i].Handicap = hclMap[int(h-50)/10+c*6]
		pos++
	}
	return true
}

// DecodeHCL reverses EncodeHCL, restoring the real handicaps and returning
// the hidden command. Decoding stops at the first occupied slot that carries
// a real handicap.
func (t Table) DecodeHCL() string {
	var sb strings.Builder
	for i := range t {
		if t[i].Status != StatusOccupied {
			continue
		}
		idx := hclIndex(t[i].Handicap)
		if idx < 0 {
			break
		}
		c := idx / 6
		if c >= len(HCLAlphabet) {
			break
		}
		sb.WriteByte(HCLAlphabet[c])
		t[i].Handicap = uint8(50 + (idx%6)*10)
	}
	return sb.String()
}

func hclIndex(v uint8) int {
	for i, m := range hclMap {
		if m == v {
			return i
		}
	}
	return -1
}
