package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the movement direction of a transaction or client.
type Direction string

const (
	DirectionAny      Direction = ""
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a known direction. DirectionAny is valid.
func (d Direction) Valid() bool {
	switch d {
	case DirectionAny, DirectionInbound, DirectionOutbound:
		return true
	}
	return false
}

// TransactionRecord is one imported supply or disposal movement.
type TransactionRecord struct {
	ID               string
	OrganizationCode string
	Direction        Direction
	DocumentNumber   string
	LineNumber       int
	OccurredOn       time.Time
	Descriptors      []string
	Weight           decimal.Decimal
	Unit             string
	Slots            MappingSlotSet
	Revision         int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Year returns the occurrence year.
func (t TransactionRecord) Year() int {
	return t.OccurredOn.Year()
}

// Month returns the occurrence month (1-12).
func (t TransactionRecord) Month() int {
	return int(t.OccurredOn.Month())
}

// Complete reports whether every slot is resolved.
func (t TransactionRecord) Complete() bool {
	return t.Slots.Complete()
}

// Clone returns a copy that shares no mutable state with t.
func (t TransactionRecord) Clone() TransactionRecord {
	out := t
	out.Descriptors = append([]string(nil), t.Descriptors...)
	out.Slots = t.Slots.Clone()
	return out
}
