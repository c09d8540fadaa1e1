package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EntityKind classifies canonical reference entities.
type EntityKind string

const (
	EntityClient          EntityKind = "client"
	EntitySecondaryClient EntityKind = "secondary_client"
	EntityVehicle         EntityKind = "vehicle"
	EntityLineItem        EntityKind = "line_item"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityClient, EntitySecondaryClient, EntityVehicle, EntityLineItem:
		return true
	}
	return false
}

// OrganizationScoped reports whether entities of this kind must share the record's organization.
// Line items may live in the shared catalog.
func (k EntityKind) OrganizationScoped() bool {
	return k != EntityLineItem
}

// DirectionScoped reports whether entities of this kind must match the
// record's movement direction. An entity without a direction matches either.
func (k EntityKind) DirectionScoped() bool {
	return k == EntityClient || k == EntitySecondaryClient || k == EntityVehicle
}

// Organization is an owning company registered in the reporting system.
type Organization struct {
	Code string
	Name string
}

// ReferenceEntity is a canonical entity a slot can link to.
// It is owned by the catalog collaborators; the engine only reads it.
type ReferenceEntity struct {
	ID               string
	Kind             EntityKind
	Code             string
	Label            string
	OrganizationCode string
	Direction        Direction
	Capacity         decimal.Decimal
	Unit             string
	Attributes       map[string]string
}

// CheckCompatibility enforces the candidate invariant: matching kind, and for
// organization- or direction-scoped kinds, the record's organization and direction.
func CheckCompatibility(record TransactionRecord, slot SlotKind, entity ReferenceEntity) error {
	if !record.Slots.Has(slot) {
		return fmt.Errorf("%w: %s on %s", ErrSlotNotApplicable, slot, record.ID)
	}
	if entity.Kind != slot.EntityKind() {
		return fmt.Errorf("candidate %s is a %s, slot %s needs a %s", entity.ID, entity.Kind, slot, slot.EntityKind())
	}

	entityOrg := strings.TrimSpace(entity.OrganizationCode)
	switch {
	case entity.Kind.OrganizationScoped() && !strings.EqualFold(entityOrg, record.OrganizationCode):
		return fmt.Errorf("candidate %s belongs to organization %q, record %s to %q", entity.ID, entityOrg, record.ID, record.OrganizationCode)
	case !entity.Kind.OrganizationScoped() && entityOrg != "" && !strings.EqualFold(entityOrg, record.OrganizationCode):
		return fmt.Errorf("catalog item %s belongs to organization %q, record %s to %q", entity.ID, entityOrg, record.ID, record.OrganizationCode)
	}

	if entity.Kind.DirectionScoped() && entity.Direction != DirectionAny && record.Direction != DirectionAny && entity.Direction != record.Direction {
		return fmt.Errorf("candidate %s is %s, record %s is %s", entity.ID, entity.Direction, record.ID, record.Direction)
	}
	return nil
}
