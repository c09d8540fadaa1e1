package domain

// Scope identifies an organization and optional period.
type Scope struct {
	OrganizationCode string
	Year             int
	Month            int
}

// Covers reports whether a record in the given organization/period falls in scope.
func (s Scope) Covers(org string, year, month int) bool {
	if s.OrganizationCode != "" && s.OrganizationCode != org {
		return false
	}
	if s.Year > 0 && s.Year != year {
		return false
	}
	if s.Month > 0 && s.Month != month {
		return false
	}
	return true
}

// Filter returns the equivalent all-Any transaction filter.
func (s Scope) Filter() TransactionFilter {
	return TransactionFilter{OrganizationCode: s.OrganizationCode, Year: s.Year, Month: s.Month}
}

// SlotCounts are raw scope-level counts as produced by a store.
type SlotCounts struct {
	Total    int64
	Complete int64
	Slots    []SlotProgress
}

// SlotProgress is the resolved-vs-total count of one slot kind.
type SlotProgress struct {
	Kind     SlotKind
	Resolved int64
	Total    int64
}

// Ratio returns the resolved fraction, or 1 when no record carries the slot.
func (p SlotProgress) Ratio() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Resolved) / float64(p.Total)
}

// AggregateState classifies a scope for the status dashboard.
type AggregateState string

const (
	StateNoData         AggregateState = "no_data"
	StateNeedsAttention AggregateState = "needs_attention"
	StateReady          AggregateState = "ready"
)

// AggregateStatus summarizes resolution completeness for one scope.
type AggregateStatus struct {
	Scope    Scope
	Total    int64
	Complete int64
	Slots    []SlotProgress
	State    AggregateState
}

// Classify derives the aggregate state from counts.
func Classify(counts SlotCounts) AggregateState {
	if counts.Total == 0 {
		return StateNoData
	}
	for _, slot := range counts.Slots {
		if slot.Resolved < slot.Total {
			return StateNeedsAttention
		}
	}
	if counts.Complete < counts.Total {
		return StateNeedsAttention
	}
	return StateReady
}

// CountRecords computes SlotCounts over an in-memory record set using the
// same semantics as MatchesFilter.
func CountRecords(records []TransactionRecord) SlotCounts {
	counts := SlotCounts{}
	perKind := make(map[SlotKind]*SlotProgress, 4)
	for _, kind := range AllSlotKinds() {
		perKind[kind] = &SlotProgress{Kind: kind}
	}
	for _, rec := range records {
		counts.Total++
		if rec.Complete() {
			counts.Complete++
		}
		for _, state := range rec.Slots.Slots() {
			p := perKind[state.Kind]
			p.Total++
			if state.Resolved {
				p.Resolved++
			}
		}
	}
	for _, kind := range AllSlotKinds() {
		counts.Slots = append(counts.Slots, *perKind[kind])
	}
	return counts
}
