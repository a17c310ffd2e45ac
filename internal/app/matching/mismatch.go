package matching

// MismatchKind locates which part of an interaction disagreed.
type MismatchKind string

const (
	MethodMismatch   MismatchKind = "MethodMismatch"
	PathMismatch     MismatchKind = "PathMismatch"
	StatusMismatch   MismatchKind = "StatusMismatch"
	QueryMismatch    MismatchKind = "QueryMismatch"
	HeaderMismatch   MismatchKind = "HeaderMismatch"
	BodyTypeMismatch MismatchKind = "BodyTypeMismatch"
	BodyMismatch     MismatchKind = "BodyMismatch"
	MetadataMismatch MismatchKind = "MetadataMismatch"
)

// Mismatch is one value-level disagreement between an expected and an
// actual part. Never a Go error: mismatches are aggregated, not thrown.
type Mismatch struct {
	Kind        MismatchKind
	Path        string
	Parameter   string // query parameter, header name or metadata key
	Expected    string
	Actual      string
	Description string
}

func (m Mismatch) String() string {
	return m.Description
}

// ToJSON renders the mismatch in the verification-results wire form.
func (m Mismatch) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"type":     string(m.Kind),
		"expected": m.Expected,
		"actual":   m.Actual,
		"mismatch": m.Description,
	}
	switch m.Kind {
	case QueryMismatch, HeaderMismatch:
		out["parameter"] = m.Parameter
	case MetadataMismatch:
		out["key"] = m.Parameter
	case BodyMismatch:
		out["path"] = m.Path
	case BodyTypeMismatch:
		out["expectedBody"] = m.Expected
		out["actualBody"] = m.Actual
	}
	return out
}
