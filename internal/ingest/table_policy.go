package ingest

import "fmt"

// TableKindPolicy decides which kind a candidate table gets from its position
// among the candidates of a document, and how many candidates are taken.
type TableKindPolicy interface {
	Kind(ordinal int) (TableKind, bool)
	Limit() int
}

// OrdinalPolicy assigns kinds by position: the n-th candidate gets the n-th kind.
// Scanning stops once every kind has been assigned.
type OrdinalPolicy []TableKind

// DefaultTableKinds is the order in which bulletins print their family tables.
var DefaultTableKinds = OrdinalPolicy{TableFinalAction, TableDatesForFiling}

func (p OrdinalPolicy) Kind(ordinal int) (TableKind, bool) {
	if ordinal < 0 || ordinal >= len(p) {
		return "", false
	}
	return p[ordinal], true
}

func (p OrdinalPolicy) Limit() int { return len(p) }

// ParseTableKinds builds an OrdinalPolicy from configured kind names.
// An empty list yields DefaultTableKinds.
func ParseTableKinds(names []string) (OrdinalPolicy, error) {
	if len(names) == 0 {
		return DefaultTableKinds, nil
	}
	policy := make(OrdinalPolicy, 0, len(names))
	seen := make(map[TableKind]bool, len(names))
	for _, name := range names {
		kind := TableKind(name)
		switch kind {
		case TableFinalAction, TableDatesForFiling:
		default:
			return nil, fmt.Errorf("unknown table kind %q", name)
		}
		if seen[kind] {
			return nil, fmt.Errorf("table kind %q listed twice", name)
		}
		seen[kind] = true
		policy = append(policy, kind)
	}
	return policy, nil
}
