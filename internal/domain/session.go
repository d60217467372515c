package domain

import "time"

// Phase is a stage of the trading day.
type Phase string

const (
	PhasePreOpen    Phase = "pre_open"
	PhaseATO        Phase = "ato"
	PhaseContinuous Phase = "continuous"
	PhaseATC        Phase = "atc"
	PhaseClosed     Phase = "closed"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePreOpen, PhaseATO, PhaseContinuous, PhaseATC, PhaseClosed:
		return true
	}
	return false
}

// Mode decides who drives phase transitions.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// SessionState is a read-only view of the market session.
type SessionState struct {
	Phase     Phase
	Mode      Mode
	Day       int
	EnteredAt time.Time
}
