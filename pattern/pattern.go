package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Banks lists the bank letters in program-number order.
const Banks = "ABCDEFGH"

const (
	SlotsPerBank = 16
	NumPrograms  = len(Banks) * SlotsPerBank // 128
)

var (
	ErrInvalidPattern       = errors.New("invalid pattern")
	ErrInvalidProgramNumber = errors.New("invalid program number")
)

// Pattern identifies a device pattern by bank letter and 1-based slot.
type Pattern struct {
	Bank byte
	Slot int
}

// Encode converts a bank letter and slot into a program number.
func Encode(bank byte, slot int) (uint8, error) {
	bankIndex := strings.IndexByte(Banks, bank)
	if bankIndex < 0 {
		return 0, fmt.Errorf("%w: unknown bank %q", ErrInvalidPattern, string(bank))
	}
	if !(slot >= 1 && slot <= SlotsPerBank) {
		return 0, fmt.Errorf("%w: slot %d not in 1-%d", ErrInvalidPattern, slot, SlotsPerBank)
	}
	return uint8(bankIndex*SlotsPerBank + (slot - 1)), nil
}

// Decode converts a program number back into its pattern.
func Decode(program int) (Pattern, error) {
	if !(program >= 0 && program < NumPrograms) {
		return Pattern{}, fmt.Errorf("%w: %d not in 0-%d", ErrInvalidProgramNumber, program, NumPrograms-1)
	}
	bank := Banks[program/SlotsPerBank]

	// slots are 1-indexed, so the last slot of a bank lands on remainder 0
	slot := (program + 1) % SlotsPerBank
	if slot == 0 {
		slot = SlotsPerBank
	}
	return Pattern{Bank: bank, Slot: slot}, nil
}

// Parse reads the textual form, e.g. "A12" or "h16".
func Parse(name string) (Pattern, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, name)
	}
	bank := strings.ToUpper(name[:1])[0]
	slot, err := strconv.Atoi(name[1:])
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, name)
	}
	p := Pattern{Bank: bank, Slot: slot}
	if _, err := p.Program(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// Program returns the program number for p.
func (p Pattern) Program() (uint8, error) {
	return Encode(p.Bank, p.Slot)
}

func (p Pattern) String() string {
	return fmt.Sprintf("%c%d", p.Bank, p.Slot)
}

// Name renders a program number as a pattern name, or "" when out of range.
func Name(program uint8) string {
	p, err := Decode(int(program))
	if err != nil {
		return ""
	}
	return p.String()
}
