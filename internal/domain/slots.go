package domain

import (
	"fmt"
	"strings"
)

// SlotKind names one reconciliation dimension on a transaction.
type SlotKind string

const (
	SlotLineItem        SlotKind = "line_item"
	SlotClient          SlotKind = "client"
	SlotSecondaryClient SlotKind = "secondary_client"
	SlotVehicle         SlotKind = "vehicle"
)

// AllSlotKinds returns every slot kind in canonical order.
func AllSlotKinds() []SlotKind {
	return []SlotKind{SlotLineItem, SlotClient, SlotSecondaryClient, SlotVehicle}
}

// ParseSlotKind accepts the canonical names plus a few legacy spellings used by import files.
func ParseSlotKind(value string) (SlotKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "line_item", "lineitem", "item", "waste_item":
		return SlotLineItem, nil
	case "client", "primary_client":
		return SlotClient, nil
	case "secondary_client", "secondaryclient", "sub_client":
		return SlotSecondaryClient, nil
	case "vehicle":
		return SlotVehicle, nil
	default:
		return "", fmt.Errorf("unknown slot kind %q", value)
	}
}

// EntityKind returns the reference entity kind a slot links to.
func (k SlotKind) EntityKind() EntityKind {
	switch k {
	case SlotLineItem:
		return EntityLineItem
	case SlotClient:
		return EntityClient
	case SlotSecondaryClient:
		return EntitySecondaryClient
	case SlotVehicle:
		return EntityVehicle
	default:
		return ""
	}
}

// Valid reports whether k is one of the known slot kinds.
func (k SlotKind) Valid() bool {
	return k.EntityKind() != ""
}

// SlotState is the resolution state of a single slot.
// The zero value (with Kind set) is Unresolved.
type SlotState struct {
	Kind           SlotKind
	Resolved       bool
	CandidateID    string
	CandidateLabel string
}

// Unresolved returns the unresolved state for kind.
func Unresolved(kind SlotKind) SlotState {
	return SlotState{Kind: kind}
}

// ResolvedTo returns a resolved state linked to the given candidate.
func ResolvedTo(kind SlotKind, candidateID, label string) SlotState {
	return SlotState{Kind: kind, Resolved: true, CandidateID: candidateID, CandidateLabel: label}
}

// MappingSlotSet is the fixed, ordered collection of slots a record carries.
// Only the kinds applicable to the record are present.
type MappingSlotSet struct {
	kinds []SlotKind
	state map[SlotKind]SlotState
}

// NewMappingSlotSet creates a slot set with every listed kind Unresolved.
// Duplicate and unknown kinds are dropped.
func NewMappingSlotSet(kinds ...SlotKind) MappingSlotSet {
	set := MappingSlotSet{state: make(map[SlotKind]SlotState, len(kinds))}
	for _, kind := range kinds {
		if !kind.Valid() {
			continue
		}
		if _, ok := set.state[kind]; ok {
			continue
		}
		set.kinds = append(set.kinds, kind)
		set.state[kind] = Unresolved(kind)
	}
	return set
}

// Kinds returns the slot kinds in the set, in insertion order.
func (s MappingSlotSet) Kinds() []SlotKind {
	return append([]SlotKind(nil), s.kinds...)
}

// Has reports whether the set carries a slot of the given kind.
func (s MappingSlotSet) Has(kind SlotKind) bool {
	_, ok := s.state[kind]
	return ok
}

// Get returns the state of a slot. The boolean is false when the slot is not part of the set.
func (s MappingSlotSet) Get(kind SlotKind) (SlotState, bool) {
	st, ok := s.state[kind]
	return st, ok
}

// Slots returns all slot states in order.
func (s MappingSlotSet) Slots() []SlotState {
	out := make([]SlotState, 0, len(s.kinds))
	for _, kind := range s.kinds {
		out = append(out, s.state[kind])
	}
	return out
}

// Complete is true iff every slot in the set is resolved.
// An empty set is never complete.
func (s MappingSlotSet) Complete() bool {
	if len(s.kinds) == 0 {
		return false
	}
	for _, kind := range s.kinds {
		if !s.state[kind].Resolved {
			return false
		}
	}
	return true
}

// With returns a copy of the set with one slot replaced. The receiver is not modified.
func (s MappingSlotSet) With(state SlotState) (MappingSlotSet, error) {
	if !s.Has(state.Kind) {
		return MappingSlotSet{}, fmt.Errorf("%w: %s", ErrSlotNotApplicable, state.Kind)
	}
	out := s.Clone()
	out.state[state.Kind] = state
	return out, nil
}

// Clone returns a deep copy.
func (s MappingSlotSet) Clone() MappingSlotSet {
	out := MappingSlotSet{
		kinds: append([]SlotKind(nil), s.kinds...),
		state: make(map[SlotKind]SlotState, len(s.state)),
	}
	for k, v := range s.state {
		out.state[k] = v
	}
	return out
}

// ResolvedCount returns the number of resolved slots.
func (s MappingSlotSet) ResolvedCount() int {
	n := 0
	for _, kind := range s.kinds {
		if s.state[kind].Resolved {
			n++
		}
	}
	return n
}
