package remote

import (
	"strings"
)

type Op string

// The two operators the sync layer actually issues: user scoping and
// the completed_date rolling window.
const (
	OpEq  Op = "="
	OpGte Op = ">="
)

type Cond struct {
	Field string
	Op    Op
	Value string
}

// Filter is a conjunction of field conditions.
type Filter []Cond

func Eq(field, value string) Cond {
	return Cond{Field: field, Op: OpEq, Value: value}
}

func Gte(field, value string) Cond {
	return Cond{Field: field, Op: OpGte, Value: value}
}

// Encode renders the canonical filter expression sent to the store,
// e.g. user_id='u1' && completed_date>='2026-05-28'.
func (f Filter) Encode() string {
	if len(f) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f))
	for _, c := range f {
		parts = append(parts, c.Field+string(c.Op)+quote(c.Value))
	}
	return strings.Join(parts, " && ")
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "\\'") + "'"
}
