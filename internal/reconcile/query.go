package reconcile

import (
	"context"
	"strings"

	"github.com/vanshika/wastelca/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// QueryService runs filtered, paged transaction queries.
type QueryService struct {
	store TransactionStore
}

// NewQueryService builds a QueryService over store.
func NewQueryService(store TransactionStore) *QueryService {
	return &QueryService{store: store}
}

// Query returns one page of records and the size of the whole filtered set.
// Failures are reported as *domain.QueryError; an empty page is not an error.
func (s *QueryService) Query(ctx context.Context, filter domain.TransactionFilter, page, pageSize int) (domain.TransactionPage, error) {
	filter = normalizeFilter(filter)
	if err := filter.Validate(); err != nil {
		return domain.TransactionPage{}, &domain.QueryError{Op: "query transactions", Err: err}
	}
	page, pageSize = normalizePagination(page, pageSize)

	result, err := s.store.QueryTransactions(ctx, filter, domain.PageRequest{Page: page, PageSize: pageSize})
	if err != nil {
		return domain.TransactionPage{}, asQueryError("query transactions", err)
	}
	result.Page = page
	result.PageSize = pageSize
	if result.Records == nil {
		result.Records = []domain.TransactionRecord{}
	}
	return result, nil
}

// Count returns the number of records matching filter.
func (s *QueryService) Count(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	res, err := s.Query(ctx, filter, 1, 1)
	if err != nil {
		return 0, err
	}
	return res.TotalCount, nil
}

// All walks every page of filter and calls fn for each record. It stops at
// the first error from fn.
func (s *QueryService) All(ctx context.Context, filter domain.TransactionFilter, pageSize int, fn func(domain.TransactionRecord) error) error {
	_, pageSize = normalizePagination(1, pageSize)
	for page := 1; ; page++ {
		res, err := s.Query(ctx, filter, page, pageSize)
		if err != nil {
			return err
		}
		for _, rec := range res.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(res.Records) < pageSize || int64(page*pageSize) >= res.TotalCount {
			return nil
		}
	}
}

func normalizeFilter(f domain.TransactionFilter) domain.TransactionFilter {
	f.OrganizationCode = strings.ToUpper(strings.TrimSpace(f.OrganizationCode))
	f.DocumentNumber = strings.TrimSpace(f.DocumentNumber)
	return f
}

func normalizePagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func asQueryError(op string, err error) error {
	if qe, ok := err.(*domain.QueryError); ok {
		return qe
	}
	return &domain.QueryError{Op: op, Err: err}
}
