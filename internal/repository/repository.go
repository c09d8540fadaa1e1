package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/graph"
)

// Repository encapsulates graph persistence of organizations, reference
// entities and transaction records. A resolved slot is a MAPPED_TO
// relationship from the transaction to the linked entity.
type Repository struct {
	client graph.Client
	now    func() time.Time
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client, now: time.Now}
}

// EnsureSchema creates the constraints and indexes the queries rely on.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertOrganization ensures an organization node exists with the latest name.
func (r *Repository) UpsertOrganization(ctx context.Context, org domain.Organization) error {
	code := normalizeCode(org.Code)
	if code == "" {
		return errors.New("organization code is required")
	}
	_, err := r.client.ExecuteWrite(ctx, upsertOrganizationCypher, map[string]any{
		"code": code,
		"name": strings.TrimSpace(org.Name),
	})
	if err != nil {
		return fmt.Errorf("upsert organization %s: %w", code, err)
	}
	return nil
}

// ListOrganizations returns every organization ordered by code.
func (r *Repository) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	res, err := r.client.ExecuteRead(ctx, listOrganizationsCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("list organizations query: %w", err)
	}
	orgs := make([]domain.Organization, 0, len(res.Records))
	for _, record := range res.Records {
		orgs = append(orgs, domain.Organization{
			Code: toString(record["code"]),
			Name: toString(record["name"]),
		})
	}
	return orgs, nil
}

// UpsertEntity ensures a reference entity node exists and is linked to its
// owning organization. Shared catalog items have no organization.
func (r *Repository) UpsertEntity(ctx context.Context, entity domain.ReferenceEntity) error {
	if entity.ID == "" {
		return errors.New("entity id is required")
	}
	if !entity.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", entity.Kind)
	}
	org := normalizeCode(entity.OrganizationCode)
	if org == "" && entity.Kind.OrganizationScoped() {
		return fmt.Errorf("entity %s: %w: organization code is required for %s", entity.ID, domain.ErrUnknownOrganization, entity.Kind)
	}

	params := map[string]any{
		"entityId":         entity.ID,
		"kind":             string(entity.Kind),
		"organizationCode": org,
		"props":            entityProperties(entity, org),
	}

	if org == "" {
		if _, err := r.client.ExecuteWrite(ctx, upsertSharedEntityCypher, params); err != nil {
			return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
		}
		return nil
	}

	res, err := r.client.ExecuteWrite(ctx, upsertOwnedEntityCypher, params)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("entity %s: %w: %q", entity.ID, domain.ErrUnknownOrganization, org)
	}
	return nil
}

// CreateTransaction inserts a record unless one with the same id exists and
// reports whether it was inserted. Existing records, including their slot
// links, are left untouched.
func (r *Repository) CreateTransaction(ctx context.Context, record domain.TransactionRecord) (bool, error) {
	if record.ID == "" {
		return false, errors.New("transaction id is required")
	}
	org := normalizeCode(record.OrganizationCode)
	if org == "" {
		return false, errors.New("organization code is required")
	}

	now := formatTime(r.now())
	params := map[string]any{
		"transactionId":    record.ID,
		"organizationCode": org,
		"props":            transactionProperties(record, org),
		"now":              now,
	}

	res, err := r.client.ExecuteWrite(ctx, createTransactionCypher, params)
	if err != nil {
		return false, fmt.Errorf("create transaction %s: %w", record.ID, err)
	}
	if len(res.Records) == 0 {
		return false, fmt.Errorf("transaction %s: %w: %q", record.ID, domain.ErrUnknownOrganization, org)
	}
	created, _ := res.Records[0]["created"].(bool)
	return created, nil
}

// GetEntity returns one reference entity.
func (r *Repository) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error) {
	res, err := r.client.ExecuteRead(ctx, getEntityCypher, map[string]any{
		"kind":     string(kind),
		"entityId": id,
	})
	if err != nil {
		return domain.ReferenceEntity{}, fmt.Errorf("get entity query: %w", err)
	}
	if len(res.Records) == 0 {
		return domain.ReferenceEntity{}, fmt.Errorf("%w: %s %s", domain.ErrEntityNotFound, kind, id)
	}
	return decodeEntity(res.Records[0], ""), nil
}

// ListCandidates returns entities of kind visible to organizationCode.
// Direction only narrows direction-scoped kinds; entities without a direction
// always match.
func (r *Repository) ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error) {
	org := normalizeCode(organizationCode)
	if !kind.Valid() {
		return nil, &domain.LookupError{Kind: kind, OrganizationCode: org, Err: fmt.Errorf("unknown entity kind %q", kind)}
	}

	orgRes, err := r.client.ExecuteRead(ctx, organizationExistsCypher, map[string]any{"code": org})
	if err != nil {
		return nil, fmt.Errorf("organization lookup: %w", err)
	}
	if len(orgRes.Records) == 0 {
		return nil, &domain.LookupError{Kind: kind, OrganizationCode: org, Err: domain.ErrUnknownOrganization}
	}

	dir := ""
	if kind.DirectionScoped() {
		dir = string(direction)
	}
	res, err := r.client.ExecuteRead(ctx, listCandidatesCypher, map[string]any{
		"kind":             string(kind),
		"organizationCode": org,
		"orgScoped":        kind.OrganizationScoped(),
		"direction":        dir,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates query: %w", err)
	}

	out := make([]domain.ReferenceEntity, 0, len(res.Records))
	for _, record := range res.Records {
		out = append(out, decodeEntity(record, ""))
	}
	return out, nil
}

func entityProperties(e domain.ReferenceEntity, org string) map[string]any {
	props := map[string]any{
		"code":             strings.TrimSpace(e.Code),
		"label":            strings.TrimSpace(e.Label),
		"organizationCode": org,
		"direction":        string(e.Direction),
		"capacity":         e.Capacity.String(),
		"unit":             e.Unit,
		"updatedAt":        formatTime(time.Now()),
	}
	if len(e.Attributes) > 0 {
		if serialized, err := json.Marshal(e.Attributes); err == nil {
			props["attributesJson"] = string(serialized)
		}
	}
	return props
}

func transactionProperties(t domain.TransactionRecord, org string) map[string]any {
	kinds := make([]string, 0)
	for _, k := range t.Slots.Kinds() {
		kinds = append(kinds, string(k))
	}
	descriptors := t.Descriptors
	if descriptors == nil {
		descriptors = []string{}
	}
	return map[string]any{
		"organizationCode": org,
		"direction":        string(t.Direction),
		"documentNumber":   t.DocumentNumber,
		"lineNumber":       int64(t.LineNumber),
		"occurredOn":       formatTime(t.OccurredOn),
		"year":             int64(t.Year()),
		"month":            int64(t.Month()),
		"descriptors":      descriptors,
		"weight":           t.Weight.String(),
		"unit":             t.Unit,
		"slotKinds":        kinds,
	}
}

// decodeEntity reads entity columns, optionally with a column prefix.
func decodeEntity(record graph.Record, prefix string) domain.ReferenceEntity {
	e := domain.ReferenceEntity{
		ID:               toString(record[prefix+"entityId"]),
		Kind:             domain.EntityKind(toString(record[prefix+"kind"])),
		Code:             toString(record[prefix+"code"]),
		Label:            toString(record[prefix+"label"]),
		OrganizationCode: toString(record[prefix+"organizationCode"]),
		Direction:        domain.Direction(toString(record[prefix+"direction"])),
		Capacity:         toDecimal(record[prefix+"capacity"]),
		Unit:             toString(record[prefix+"unit"]),
	}
	if raw := toString(record[prefix+"attributesJson"]); raw != "" {
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &attrs); err == nil {
			e.Attributes = attrs
		}
	}
	return e
}

func decodeTransaction(record graph.Record) domain.TransactionRecord {
	kinds := make([]domain.SlotKind, 0, 4)
	for _, k := range toStringSlice(record["slotKinds"]) {
		kinds = append(kinds, domain.SlotKind(k))
	}
	slots := domain.NewMappingSlotSet(kinds...)

	mappings, _ := record["mappings"].([]any)
	for _, raw := range mappings {
		m := asMap(raw)
		kind := domain.SlotKind(toString(m["slot"]))
		if updated, err := slots.With(domain.ResolvedTo(kind, toString(m["entityId"]), toString(m["label"]))); err == nil {
			slots = updated
		}
	}

	rec := domain.TransactionRecord{
		ID:               toString(record["transactionId"]),
		OrganizationCode: toString(record["organizationCode"]),
		Direction:        domain.Direction(toString(record["direction"])),
		DocumentNumber:   toString(record["documentNumber"]),
		LineNumber:       int(toInt64(record["lineNumber"])),
		Descriptors:      toStringSlice(record["descriptors"]),
		Weight:           toDecimal(record["weight"]),
		Unit:             toString(record["unit"]),
		Slots:            slots,
		Revision:         toInt64(record["revision"]),
	}
	if ts := toTimePtr(record["occurredOn"]); ts != nil {
		rec.OccurredOn = *ts
	}
	if ts := toTimePtr(record["createdAt"]); ts != nil {
		rec.CreatedAt = *ts
	}
	if ts := toTimePtr(record["updatedAt"]); ts != nil {
		rec.UpdatedAt = *ts
	}
	return rec
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toDecimal(val any) decimal.Decimal {
	switch v := val.(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	}
	return decimal.Zero
}

func toStringSlice(val any) []string {
	switch v := val.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asMap(val any) map[string]any {
	m, _ := val.(map[string]any)
	return m
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse(time.DateOnly, v); err == nil {
			return &parsed
		}
	}
	return nil
}
