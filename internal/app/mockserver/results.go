package mockserver

import (
	"github.com/form3tech-oss/pact-core/internal/app/matching"
)

// MatchResultKind classifies one recorded mock-server event.
type MatchResultKind string

const (
	// RequestMatched records a request fully served by an interaction.
	RequestMatched MatchResultKind = "request-matched"
	// RequestMismatched records a request that selected a best candidate
	// but disagreed with it.
	RequestMismatched MatchResultKind = "request-mismatch"
	// RequestNotFound records a request no interaction came close to.
	RequestNotFound MatchResultKind = "request-not-found"
	// InteractionNotMatched is recorded at shutdown for interactions no
	// request ever hit.
	InteractionNotMatched MatchResultKind = "missing-request"
)

// MatchResult is one entry of the server's match log.
type MatchResult struct {
	Kind        MatchResultKind
	Method      string
	Path        string
	Interaction string
	Mismatches  []matching.Mismatch
}

// ToJSON renders the result for the mismatches endpoint.
func (r MatchResult) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"type":   string(r.Kind),
		"method": r.Method,
		"path":   r.Path,
	}
	if r.Interaction != "" {
		out["interaction"] = r.Interaction
	}
	if len(r.Mismatches) > 0 {
		mismatches := make([]interface{}, 0, len(r.Mismatches))
		for _, m := range r.Mismatches {
			mismatches = append(mismatches, m.ToJSON())
		}
		out["mismatches"] = mismatches
	}
	return out
}
