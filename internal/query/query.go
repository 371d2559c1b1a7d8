// Package query turns listing query strings into store filters.
package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/PaulBabatuyi/biodata-api/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Listing defaults and bounds.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ValidationError reports a malformed query parameter.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query parameter %s: %s", e.Param, e.Reason)
}

// Plan is a parsed listing request.
type Plan struct {
	Filter bson.D
	Skip   int64
	Limit  int64
	Page   int
	MinAge *int
	MaxAge *int
}

// Page is the listing response body.
type Page[T any] struct {
	Biodatas        []T   `json:"biodatas"`
	TotalCount      int64 `json:"totalCount"`
	TotalPageNumber int64 `json:"totalPageNumber"`
	Page            int   `json:"page"`
	Limit           int64 `json:"limit"`
	MinAge          *int  `json:"minAge"`
	MaxAge          *int  `json:"maxAge"`
}

// NewPage assembles the response for plan from one page of items and the
// total match count.
func NewPage[T any](plan Plan, items []T, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Biodatas:        items,
		TotalCount:      total,
		TotalPageNumber: TotalPages(total, plan.Limit),
		Page:            plan.Page,
		Limit:           plan.Limit,
		MinAge:          plan.MinAge,
		MaxAge:          plan.MaxAge,
	}
}

// TotalPages returns ceil(total/limit).
func TotalPages(total, limit int64) int64 {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// ParseListParams reads page, limit, type, division, minAge and maxAge.
// Absent numbers take their defaults; present but malformed ones are
// rejected with a *ValidationError. Unknown type or division values add no
// constraint.
func ParseListParams(q url.Values) (Plan, error) {
	page, err := intParam(q, "page", DefaultPage)
	if err != nil {
		return Plan{}, err
	}
	if page < 1 {
		return Plan{}, &ValidationError{Param: "page", Reason: "must be at least 1"}
	}

	limit, err := intParam(q, "limit", DefaultLimit)
	if err != nil {
		return Plan{}, err
	}
	if limit < 1 || limit > MaxLimit {
		return Plan{}, &ValidationError{Param: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	// skip must stay representable
	if int64(page-1) > math.MaxInt64/int64(limit) {
		return Plan{}, &ValidationError{Param: "page", Reason: "too large"}
	}

	minAge, err := optionalAge(q, "minAge")
	if err != nil {
		return Plan{}, err
	}
	maxAge, err := optionalAge(q, "maxAge")
	if err != nil {
		return Plan{}, err
	}
	if minAge != nil && maxAge != nil && *minAge > *maxAge {
		return Plan{}, &ValidationError{Param: "minAge", Reason: "must not exceed maxAge"}
	}

	filter := bson.D{}
	if t, ok := biodataType(q.Get("type")); ok {
		filter = append(filter, bson.E{Key: "biodataType", Value: t})
	}
	if d, ok := data.DivisionCodes[strings.TrimSpace(q.Get("division"))]; ok {
		filter = append(filter, bson.E{Key: "presentDivision", Value: d})
	}
	if age := ageRange(minAge, maxAge); age != nil {
		filter = append(filter, bson.E{Key: "age", Value: age})
	}

	return Plan{
		Filter: filter,
		Skip:   int64(page-1) * int64(limit),
		Limit:  int64(limit),
		Page:   page,
		MinAge: minAge,
		MaxAge: maxAge,
	}, nil
}

func biodataType(v string) (string, bool) {
	switch strings.TrimSpace(v) {
	case data.TypeMale, "male":
		return data.TypeMale, true
	case data.TypeFemale, "female":
		return data.TypeFemale, true
	}
	return "", false
}

func ageRange(lo, hi *int) bson.D {
	var d bson.D
	if lo != nil {
		d = append(d, bson.E{Key: "$gte", Value: *lo})
	}
	if hi != nil {
		d = append(d, bson.E{Key: "$lte", Value: *hi})
	}
	return d
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw, ok := q[name]
	if !ok || len(raw) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw[0]))
	if err != nil {
		return 0, &ValidationError{Param: name, Reason: "must be an integer"}
	}
	return n, nil
}

func optionalAge(q url.Values, name string) (*int, error) {
	if _, ok := q[name]; !ok {
		return nil, nil
	}
	n, err := intParam(q, name, 0)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &ValidationError{Param: name, Reason: "must not be negative"}
	}
	return &n, nil
}

// PremiumLimit caps the premium profile listing.
const PremiumLimit = 6

// ParsePremiumSort maps younger or older to an age ordering. Absent means
// younger.
func ParsePremiumSort(v string) (bson.D, error) {
	switch strings.TrimSpace(v) {
	case "", "younger":
		return bson.D{{Key: "age", Value: 1}, {Key: "biodataId", Value: 1}}, nil
	case "older":
		return bson.D{{Key: "age", Value: -1}, {Key: "biodataId", Value: 1}}, nil
	}
	return nil, &ValidationError{Param: "sort", Reason: "must be younger or older"}
}

// ParseStorySort maps newest or oldest to a marriage date ordering. Absent
// means newest.
func ParseStorySort(v string) (bson.D, error) {
	switch strings.TrimSpace(v) {
	case "", "newest":
		return bson.D{{Key: "marriageDate", Value: -1}}, nil
	case "oldest":
		return bson.D{{Key: "marriageDate", Value: 1}}, nil
	}
	return nil, &ValidationError{Param: "sort", Reason: "must be newest or oldest"}
}
