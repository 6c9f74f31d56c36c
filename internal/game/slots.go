package game

import (
	"errors"

	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/slot"
)

// Slot operation errors.
var (
	ErrSlotsFrozen = errors.New("slots are frozen once the game has started")
	ErrBadSlot     = errors.New("invalid slot")
	ErrSlotInUse   = errors.New("slot is occupied by a player")
)

func (s *Session) slotsMutable() error {
	if s.state != StateLobby || s.countingDown {
		return ErrSlotsFrozen
	}
	return nil
}

// vacate clears whoever occupies slot i. Humans are only removed when kick
// is set.
func (s *Session) vacate(i int, kick bool) error {
	sl := s.slots[i]
	if sl.Status != slot.StatusOccupied || sl.Computer {
		return nil
	}
	if p := s.Player(sl.PID); p != nil {
		if !kick {
			return ErrSlotInUse
		}
		s.removePlayer(p, "was kicked by the host", protocol.LeaveLobby)
		return nil
	}
	for k, f := range s.fakePlayers {
		if f == sl.PID {
			s.fakePlayers = append(s.fakePlayers[:k], s.fakePlayers[k+1:]...)
			s.broadcast(protocol.BuildPlayerLeaveOthers(f, protocol.LeaveLobby))
			break
		}
	}
	return nil
}

// OpenSlot opens slot i, kicking its occupant if kick is set.
func (s *Session) OpenSlot(i int, kick bool) error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	if !s.slots.Valid(i) {
		return ErrBadSlot
	}
	if err := s.vacate(i, kick); err != nil {
		return err
	}
	s.slots.Open(i)
	s.sendSlotInfo()
	return nil
}

// CloseSlot closes slot i, kicking its occupant if kick is set.
func (s *Session) CloseSlot(i int, kick bool) error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	if !s.slots.Valid(i) {
		return ErrBadSlot
	}
	if err := s.vacate(i, kick); err != nil {
		return err
	}
	s.slots.Close(i)
	s.sendSlotInfo()
	return nil
}

// ComputerSlot fills slot i with a computer player. Human occupants are
// kicked.
func (s *Session) ComputerSlot(i int, skill slot.Skill) error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	if !s.slots.Valid(i) || s.slots[i].Observer() || skill > slot.SkillHard {
		return ErrBadSlot
	}
	if err := s.vacate(i, true); err != nil {
		return err
	}
	s.slots.Computer(i, skill)
	s.sendSlotInfo()
	return nil
}

// ColourSlot assigns colour c to slot i.
func (s *Session) ColourSlot(i int, c uint8) error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	if !s.slots.Valid(i) || c >= slot.MaxColours {
		return ErrBadSlot
	}
	if s.slots.SetColour(i, c) {
		s.sendSlotInfo()
	}
	return nil
}

// SwapSlots exchanges two slots under the map's restrictions.
func (s *Session) SwapSlots(a, b int) error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	if !s.slots.Valid(a) || !s.slots.Valid(b) {
		return ErrBadSlot
	}
	if s.slots.Swap(a, b, s.opts) {
		s.sendSlotInfo()
	}
	return nil
}

// ShuffleSlots randomly re-seats the human players.
func (s *Session) ShuffleSlots() error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	if s.slots.Shuffle(s.rng) {
		s.sendSlotInfo()
		s.SendAllChat("Players shuffled")
	}
	return nil
}

// OpenAllSlots opens every closed slot.
func (s *Session) OpenAllSlots() error {
	return s.bulkSlots(slot.StatusClosed, s.slots.Open)
}

// CloseAllSlots closes every open slot.
func (s *Session) CloseAllSlots() error {
	return s.bulkSlots(slot.StatusOpen, s.slots.Close)
}

func (s *Session) bulkSlots(from slot.Status, apply func(int)) error {
	if err := s.slotsMutable(); err != nil {
		return err
	}
	changed := false
	for i := range s.slots {
		if s.slots[i].Status == from {
			apply(i)
			changed = true
		}
	}
	if changed {
		s.sendSlotInfo()
	}
	return nil
}
