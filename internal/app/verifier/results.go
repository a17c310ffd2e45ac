package verifier

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
)

// Outcome classifies one interaction verification.
type Outcome int

const (
	Success Outcome = iota
	Failed
	Errored
)

// VerificationResult is the graded outcome of replaying one interaction.
type VerificationResult struct {
	InteractionKey         string
	InteractionDescription string
	Consumer               string
	Provider               string
	Elapsed                time.Duration
	Outcome                Outcome
	Mismatches             []matching.Mismatch
	Error                  string
	Pending                bool
	Published              bool
}

// Ok reports whether the interaction verified cleanly.
func (r VerificationResult) Ok() bool {
	return r.Outcome == Success
}

// ExecutionResult aggregates a whole verification run.
type ExecutionResult struct {
	Results []VerificationResult
	Output  []string
	// NoPactsFound is set when every source came back empty.
	NoPactsFound bool
}

// Passed reports the overall verdict: pending interactions never fail
// the run.
func (e ExecutionResult) Passed() bool {
	for _, r := range e.Results {
		if !r.Ok() && !r.Pending {
			return false
		}
	}
	return true
}

// ToJSON renders the run in the published result schema: failures of
// pending interactions land under pendingErrors instead of errors.
func (e ExecutionResult) ToJSON() map[string]interface{} {
	errorsOut := make([]interface{}, 0)
	pendingOut := make([]interface{}, 0)
	for _, r := range e.Results {
		if r.Ok() {
			continue
		}
		entry := map[string]interface{}{
			"interaction": r.InteractionDescription,
			"mismatch":    mismatchJSON(r),
		}
		if r.Pending {
			pendingOut = append(pendingOut, entry)
		} else {
			errorsOut = append(errorsOut, entry)
		}
	}
	output := e.Output
	if output == nil {
		output = []string{}
	}
	return map[string]interface{}{
		"result":        e.Passed(),
		"output":        output,
		"errors":        errorsOut,
		"pendingErrors": pendingOut,
	}
}

func mismatchJSON(r VerificationResult) map[string]interface{} {
	if r.Outcome == Errored {
		return map[string]interface{}{
			"type":          "error",
			"message":       r.Error,
			"interactionId": r.InteractionKey,
		}
	}
	mismatches := make([]interface{}, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		mismatches = append(mismatches, m.ToJSON())
	}
	return map[string]interface{}{
		"type":          "mismatches",
		"mismatches":    mismatches,
		"interactionId": r.InteractionKey,
	}
}

// WriteJSON writes the run result document to a file.
func (e ExecutionResult) WriteJSON(path string) error {
	data, err := json.MarshalIndent(e.ToJSON(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode verification results")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "unable to write verification results to %s", path)
	}
	return nil
}

// lastFailedFile is the on-disk cache of failed interaction keys used by
// the --last-failed development loop.
const lastFailedFile = ".pact-last-failed.json"

// SaveLastFailed records the keys of failed non-pending interactions.
func SaveLastFailed(dir string, results []VerificationResult) error {
	var keys []string
	for _, r := range results {
		if !r.Ok() && !r.Pending && r.InteractionKey != "" {
			keys = append(keys, r.InteractionKey)
		}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return os.WriteFile(dir+"/"+lastFailedFile, data, 0644)
}

// LoadLastFailed reads the previously failed interaction keys; a missing
// cache returns an empty set.
func LoadLastFailed(dir string) (map[string]bool, error) {
	data, err := os.ReadFile(dir + "/" + lastFailedFile)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, errors.Wrap(err, "unable to read the last-failed cache")
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, errors.Wrap(err, "unable to parse the last-failed cache")
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out, nil
}
