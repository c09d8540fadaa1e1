package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/vanshika/wastelca/internal/domain"
)

// CandidateDirection returns the direction to list candidates with for a slot
// of record. Only direction-scoped kinds are narrowed.
func CandidateDirection(record domain.TransactionRecord, slot domain.SlotKind) domain.Direction {
	if slot.EntityKind().DirectionScoped() {
		return record.Direction
	}
	return domain.DirectionAny
}

type sessionKey struct {
	kind      domain.EntityKind
	org       string
	direction domain.Direction
}

// SessionLookup caches candidate lists for the lifetime of one workflow
// session. Call Reset to drop the cache.
type SessionLookup struct {
	inner CandidateLookup

	mu       sync.Mutex
	lists    map[sessionKey][]domain.ReferenceEntity
	entities map[string]domain.ReferenceEntity
}

// NewSessionLookup wraps inner with a per-session cache.
func NewSessionLookup(inner CandidateLookup) *SessionLookup {
	return &SessionLookup{
		inner:    inner,
		lists:    make(map[sessionKey][]domain.ReferenceEntity),
		entities: make(map[string]domain.ReferenceEntity),
	}
}

// ListCandidates serves from the cache when the same list was fetched before.
// Errors are never cached.
func (s *SessionLookup) ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error) {
	key := sessionKey{kind: kind, org: strings.ToUpper(strings.TrimSpace(organizationCode)), direction: direction}

	s.mu.Lock()
	cached, ok := s.lists[key]
	s.mu.Unlock()
	if ok {
		return append([]domain.ReferenceEntity(nil), cached...), nil
	}

	list, err := s.inner.ListCandidates(ctx, kind, organizationCode, direction)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lists[key] = append([]domain.ReferenceEntity(nil), list...)
	for _, e := range list {
		s.entities[entityKey(e.Kind, e.ID)] = e
	}
	s.mu.Unlock()
	return list, nil
}

// GetEntity returns an entity seen in a cached list, or asks the inner lookup.
func (s *SessionLookup) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error) {
	s.mu.Lock()
	e, ok := s.entities[entityKey(kind, id)]
	s.mu.Unlock()
	if ok {
		return e, nil
	}
	return s.inner.GetEntity(ctx, kind, id)
}

// Reset drops every cached list.
func (s *SessionLookup) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = make(map[sessionKey][]domain.ReferenceEntity)
	s.entities = make(map[string]domain.ReferenceEntity)
}

func entityKey(kind domain.EntityKind, id string) string {
	return string(kind) + "/" + id
}

// Suggestion is a candidate with its similarity to a record, in [0, 1].
type Suggestion struct {
	Entity domain.ReferenceEntity
	Score  float64
}

// RankCandidates orders candidates by how closely their label or code matches
// any of the record's descriptors. Ties are broken by label, then id.
func RankCandidates(record domain.TransactionRecord, candidates []domain.ReferenceEntity) []Suggestion {
	descriptors := make([]string, 0, len(record.Descriptors))
	for _, d := range record.Descriptors {
		if n := normalizeText(d); n != "" {
			descriptors = append(descriptors, n)
		}
	}

	out := make([]Suggestion, 0, len(candidates))
	for _, c := range candidates {
		best := 0.0
		for _, target := range []string{normalizeText(c.Label), normalizeText(c.Code)} {
			if target == "" {
				continue
			}
			for _, d := range descriptors {
				if s := similarity(d, target); s > best {
					best = s
				}
			}
		}
		out = append(out, Suggestion{Entity: c, Score: best})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Entity.Label != out[j].Entity.Label {
			return out[i].Entity.Label < out[j].Entity.Label
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out
}

// PickUnambiguous returns the best suggestion when it reaches threshold and
// strictly beats the runner-up.
func PickUnambiguous(suggestions []Suggestion, threshold float64) (Suggestion, bool) {
	if len(suggestions) == 0 || suggestions[0].Score < threshold {
		return Suggestion{}, false
	}
	if len(suggestions) > 1 && suggestions[1].Score >= suggestions[0].Score {
		return Suggestion{}, false
	}
	return suggestions[0], true
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		shorter, longer := len([]rune(a)), len([]rune(b))
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		// containment is a strong signal but never beats an exact match
		return 0.9 + 0.09*float64(shorter)/float64(longer)
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func normalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
