package protocol

import (
	"fmt"
	"strconv"
)

// ShedClosedMeansSettled states how bit0 ("shed fully closed") maps to motion.
// Unconfirmed on real hardware; flip this if the loom turns out to report the
// inverse.
const ShedClosedMeansSettled = true

// StatusWord is the one hex digit bitmask carried by "=s" replies.
type StatusWord uint8

const (
	StatusShedClosed StatusWord = 0x1
	StatusReserved   StatusWord = 0x2
	StatusPickWanted StatusWord = 0x4
	StatusError      StatusWord = 0x8
)

type MotionState string

const (
	MotionMoving MotionState = "moving"
	MotionDone   MotionState = "done"
	MotionError  MotionState = "error"
)

// NewStatusWord builds the bitmask a loom reports. The reserved bit is always zero.
func NewStatusWord(settled, pickWanted, errorFlag bool) StatusWord {
	var s StatusWord
	if settled == ShedClosedMeansSettled {
		s |= StatusShedClosed
	}
	if pickWanted {
		s |= StatusPickWanted
	}
	if errorFlag {
		s |= StatusError
	}
	return s
}

func (s StatusWord) Settled() bool {
	return (s&StatusShedClosed != 0) == ShedClosedMeansSettled
}

func (s StatusWord) PickWanted() bool {
	return s&StatusPickWanted != 0
}

func (s StatusWord) HasError() bool {
	return s&StatusError != 0
}

// Motion decodes the motion state. The error bit wins over everything else.
func (s StatusWord) Motion() MotionState {
	switch {
	case s.HasError():
		return MotionError
	case s.Settled():
		return MotionDone
	default:
		return MotionMoving
	}
}

func (s StatusWord) String() string {
	return strconv.FormatUint(uint64(s), 16)
}

// ParseStatusWord decodes the hex payload of a status reply.
func ParseStatusWord(payload string) (StatusWord, error) {
	value, err := strconv.ParseUint(payload, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, payload)
	}
	return StatusWord(value), nil
}
