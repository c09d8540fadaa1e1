package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/vanshika/wastelca/internal/domain"
)

// Query parameter names used by the transaction and status endpoints.
const (
	ParamOrganization = "organization"
	ParamYear         = "year"
	ParamMonth        = "month"
	ParamDocument     = "document"
	ParamDirection    = "direction"
	ParamStatus       = "status"
	ParamPage         = "page"
	ParamPageSize     = "pageSize"
	ParamKind         = "kind"
)

// EncodeFilter renders a filter and page as query parameters. Per-slot
// statuses use the slot kind name as the parameter.
func EncodeFilter(f domain.TransactionFilter, page, pageSize int) url.Values {
	values := url.Values{}
	if f.OrganizationCode != "" {
		values.Set(ParamOrganization, f.OrganizationCode)
	}
	if f.Year > 0 {
		values.Set(ParamYear, strconv.Itoa(f.Year))
	}
	if f.Month > 0 {
		values.Set(ParamMonth, strconv.Itoa(f.Month))
	}
	if f.DocumentNumber != "" {
		values.Set(ParamDocument, f.DocumentNumber)
	}
	if f.Direction != domain.DirectionAny {
		values.Set(ParamDirection, string(f.Direction))
	}
	if f.Overall != domain.StatusAny {
		values.Set(ParamStatus, string(f.Overall))
	}
	for _, kind := range domain.AllSlotKinds() {
		if status := f.SlotStatus[kind]; status != domain.StatusAny {
			values.Set(string(kind), string(status))
		}
	}
	if page > 0 {
		values.Set(ParamPage, strconv.Itoa(page))
	}
	if pageSize > 0 {
		values.Set(ParamPageSize, strconv.Itoa(pageSize))
	}
	return values
}

// DecodeFilter parses query parameters produced by EncodeFilter. Malformed
// values wrap domain.ErrInvalidArgument.
func DecodeFilter(values url.Values) (domain.TransactionFilter, int, int, error) {
	var f domain.TransactionFilter
	var err error

	f.OrganizationCode = strings.TrimSpace(values.Get(ParamOrganization))
	f.DocumentNumber = strings.TrimSpace(values.Get(ParamDocument))
	if f.Year, err = intParam(values, ParamYear); err != nil {
		return f, 0, 0, err
	}
	if f.Month, err = intParam(values, ParamMonth); err != nil {
		return f, 0, 0, err
	}
	f.Direction = domain.Direction(strings.ToLower(strings.TrimSpace(values.Get(ParamDirection))))
	if !f.Direction.Valid() {
		return f, 0, 0, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidArgument, values.Get(ParamDirection))
	}
	if f.Overall, err = statusParam(values, ParamStatus); err != nil {
		return f, 0, 0, err
	}
	for _, kind := range domain.AllSlotKinds() {
		status, err := statusParam(values, string(kind))
		if err != nil {
			return f, 0, 0, err
		}
		if status != domain.StatusAny {
			f = f.WithSlotStatus(kind, status)
		}
	}

	page, err := intParam(values, ParamPage)
	if err != nil {
		return f, 0, 0, err
	}
	pageSize, err := intParam(values, ParamPageSize)
	if err != nil {
		return f, 0, 0, err
	}
	return f, page, pageSize, nil
}

// EncodeScope renders a scope as query parameters. Several organizations may
// be joined with commas.
func EncodeScope(organizations []string, year, month int) url.Values {
	values := url.Values{}
	if len(organizations) > 0 {
		values.Set(ParamOrganization, strings.Join(organizations, ","))
	}
	if year > 0 {
		values.Set(ParamYear, strconv.Itoa(year))
	}
	if month > 0 {
		values.Set(ParamMonth, strconv.Itoa(month))
	}
	return values
}

// DecodeScope parses organization, year and month parameters.
func DecodeScope(values url.Values) ([]string, int, int, error) {
	var orgs []string
	for _, raw := range strings.Split(values.Get(ParamOrganization), ",") {
		if org := strings.TrimSpace(raw); org != "" {
			orgs = append(orgs, org)
		}
	}
	year, err := intParam(values, ParamYear)
	if err != nil {
		return nil, 0, 0, err
	}
	month, err := intParam(values, ParamMonth)
	if err != nil {
		return nil, 0, 0, err
	}
	return orgs, year, month, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidArgument, name, raw)
	}
	return v, nil
}

func statusParam(values url.Values, name string) (domain.StatusFilter, error) {
	status, err := domain.ParseStatusFilter(values.Get(name))
	if err != nil {
		return domain.StatusAny, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, name, err)
	}
	return status, nil
}
