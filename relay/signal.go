package relay

import "fmt"

// Signal is one event raised by module code, as the two halves of a 64-bit
// value.
type Signal struct {
	Hi uint32 `json:"signal_hi"`
	Lo uint32 `json:"signal_lo"`
}

// SignalOf splits a 64-bit value into a Signal.
func SignalOf(v uint64) Signal {
	return Signal{Hi: uint32(v >> 32), Lo: uint32(v)}
}

// Value joins the halves back into the 64-bit value.
func (s Signal) Value() uint64 {
	return uint64(s.Hi)<<32 | uint64(s.Lo)
}

func (s Signal) String() string {
	return fmt.Sprintf("signal(hi=%#x, lo=%#x)", s.Hi, s.Lo)
}
