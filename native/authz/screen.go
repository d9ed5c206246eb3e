package authz

import (
	"localmoney/core/events"
)

// Screening verdicts.
const (
	PatternNone       = ""
	PatternNearZero   = "near_zero"
	PatternRepeated   = "repeated_byte"
	PatternSequential = "sequential"
)

// minScreenLength keeps very short payloads out of the heuristics.
const minScreenLength = 4

// Classify returns the degenerate pattern matched by payload, if any.
func Classify(payload []byte) string {
	if len(payload) < minScreenLength {
		return PatternNone
	}
	zeros := 0
	repeated := true
	ascending, descending := true, true
	for i, b := range payload {
		if b == 0 {
			zeros++
		}
		if i == 0 {
			continue
		}
		if b != payload[0] {
			repeated = false
		}
		if b != payload[i-1]+1 {
			ascending = false
		}
		if b != payload[i-1]-1 {
			descending = false
		}
	}
	switch {
	case zeros*10 >= len(payload)*9:
		return PatternNearZero
	case repeated:
		return PatternRepeated
	case ascending || descending:
		return PatternSequential
	default:
		return PatternNone
	}
}

// Screen inspects payload and emits a SecurityAlert when it looks degenerate.
// It never rejects; the verdict is returned for callers that want to count it.
func Screen(emitter events.Emitter, subject string, actor [20]byte, tradeID uint64, payload []byte) string {
	kind := Classify(payload)
	if kind == PatternNone || emitter == nil {
		return kind
	}
	emitter.Emit(events.SecurityAlert{Kind: kind, Subject: subject, Actor: actor, TradeID: tradeID})
	return kind
}
