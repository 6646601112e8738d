package order

import (
	"encoding/json"
	"fmt"
	"math/big"
)

type Status int

const (
	StatusOpen Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusDormant
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusDormant:
		return "dormant"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Active reports whether an order in this status may rest in the book.
func (s Status) Active() bool { return s == StatusOpen || s == StatusPartiallyFilled }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusFilled || s == StatusCancelled }

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for c := StatusOpen; c <= StatusDormant; c++ {
		if c.String() == str {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", str)
}

// StatusFor derives the status of an active order from its fill state.
func StatusFor(filled, declared *big.Int) Status {
	switch {
	case filled == nil || filled.Sign() == 0:
		return StatusOpen
	case filled.Cmp(declared) >= 0:
		return StatusFilled
	default:
		return StatusPartiallyFilled
	}
}
