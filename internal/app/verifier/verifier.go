package verifier

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/generate"
	"github.com/form3tech-oss/pact-core/internal/app/matching"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

// toolVersion identifies this implementation in published results.
const toolVersion = "1.0.0"

// Options configures a verification run.
type Options struct {
	Provider    ProviderInfo
	ProviderName string
	Sources     []PactSource
	StateChange StateChangeConfig

	RequestTimeout       time.Duration
	DisableSSLVerification bool

	FilterDescription string
	FilterState       string
	FilterNoState     bool
	FilterConsumers   []string

	Publish         bool
	ProviderVersion string
	ProviderTags    []string
	ProviderBranch  string
	BuildURL        string

	ExitOnFirstError   bool
	IgnoreNoPactsError bool
	LastFailed         bool
	WorkDir            string

	Matching matching.Config
}

// Verifier drives a verification run: load, replay, grade, publish.
type Verifier struct {
	opts     Options
	client   *providerClient
	fetcher  *http.Client
}

// New builds a verifier from options, filling defaults.
func New(opts Options) *Verifier {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if opts.Matching.MultiValueHeaders == nil {
		opts.Matching = matching.DefaultConfig()
	}
	var transport http.RoundTripper
	if opts.DisableSSLVerification {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	return &Verifier{
		opts:    opts,
		client:  newProviderClient(opts.RequestTimeout, transport),
		fetcher: &http.Client{Timeout: opts.RequestTimeout, Transport: transport},
	}
}

// Verify runs the whole verification: every source, every pact, every
// interaction, then optional publication.
func (v *Verifier) Verify() (ExecutionResult, error) {
	result := ExecutionResult{}
	pactCount := 0

	for _, source := range v.opts.Sources {
		loaded, err := source.Load(v.fetcher, v.opts.ProviderName)
		if err != nil {
			// A broken source never takes the rest of the run down.
			log.WithField("source", source.Location).Errorf("unable to load pacts: %v", err)
			result.Output = append(result.Output, errors.Wrapf(err, "unable to load pacts from %s", source.Location).Error())
			continue
		}
		for _, lp := range loaded {
			pactCount++
			results, stop := v.verifyPact(source, lp)
			if v.opts.Publish && lp.PublishLink != "" {
				v.publish(source, lp, results)
			}
			result.Results = append(result.Results, results...)
			for _, n := range lp.Notices {
				result.Output = append(result.Output, n)
			}
			if stop {
				return result, nil
			}
		}
	}

	if pactCount == 0 {
		result.NoPactsFound = true
		if !v.opts.IgnoreNoPactsError {
			return result, errors.New("no pacts were found to verify")
		}
		log.Warn("no pacts were found to verify")
	}

	if v.opts.LastFailed {
		if err := SaveLastFailed(v.opts.WorkDir, result.Results); err != nil {
			log.Warnf("unable to update the last-failed cache: %v", err)
		}
	}
	return result, nil
}

// verifyPact grades one pact; the second return value requests an early
// stop after a non-pending failure under exit-on-first-error.
func (v *Verifier) verifyPact(source PactSource, lp LoadedPact) ([]VerificationResult, bool) {
	pact := lp.Pact
	log.WithFields(log.Fields{
		"consumer": pact.Consumer.Name,
		"provider": pact.Provider.Name,
		"source":   pact.Source,
	}).Info("verifying pact")

	var lastFailed map[string]bool
	if v.opts.LastFailed {
		cache, err := LoadLastFailed(v.opts.WorkDir)
		if err != nil {
			log.Warnf("ignoring the last-failed cache: %v", err)
		} else {
			lastFailed = cache
		}
	}

	var results []VerificationResult
	for _, interaction := range pact.Interactions {
		if !v.selected(pact, interaction, lastFailed) {
			continue
		}
		if !interaction.IsHTTP() {
			log.WithField("interaction", interaction.Description).
				Info("skipping message interaction: no message transport is configured")
			continue
		}
		result := v.verifyInteraction(source, pact, interaction)
		result.Pending = result.Pending || lp.Pending
		results = append(results, result)
		if v.opts.ExitOnFirstError && !result.Ok() && !result.Pending {
			return results, true
		}
	}
	return results, false
}

// selected applies the description/state/consumer filters plus the
// last-failed cache.
func (v *Verifier) selected(pact *pactmodel.Pact, interaction *pactmodel.Interaction, lastFailed map[string]bool) bool {
	if len(v.opts.FilterConsumers) > 0 {
		found := false
		for _, c := range v.opts.FilterConsumers {
			if c == pact.Consumer.Name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if v.opts.FilterDescription != "" {
		matched, err := regexp.MatchString(v.opts.FilterDescription, interaction.Description)
		if err != nil || !matched {
			return false
		}
	}
	if v.opts.FilterNoState {
		if len(interaction.ProviderStates) > 0 {
			return false
		}
	} else if v.opts.FilterState != "" {
		matched := false
		for _, state := range interaction.ProviderStates {
			if ok, err := regexp.MatchString(v.opts.FilterState, state.Name); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if lastFailed != nil && len(lastFailed) > 0 && !lastFailed[interaction.Key()] {
		return false
	}
	return true
}

// verifyInteraction runs the state-change / replay / compare / teardown
// sequence for one interaction, strictly in that order.
func (v *Verifier) verifyInteraction(source PactSource, pact *pactmodel.Pact, interaction *pactmodel.Interaction) VerificationResult {
	started := time.Now()
	result := VerificationResult{
		InteractionKey:         interaction.Key(),
		InteractionDescription: interaction.Description,
		Consumer:               pact.Consumer.Name,
		Provider:               pact.Provider.Name,
		Pending:                interaction.Pending,
	}

	genCtx := generate.NewContext(pactmodel.ModeProvider)
	if source.Kind == BrokerSource {
		genCtx.MockServerURL = source.Location
	}

	var performed []pactmodel.ProviderState
	if v.opts.StateChange.URL != "" {
		for _, state := range interaction.ProviderStates {
			values, err := v.client.StateChange(v.opts.StateChange, state, "setup")
			if err != nil {
				result.Outcome = Errored
				result.Error = fmt.Sprintf("state change %q failed: %v", state.Name, err)
				result.Elapsed = time.Since(started)
				v.teardown(performed)
				return result
			}
			performed = append(performed, state)
			for k, val := range values {
				genCtx.ProviderStateValues[k] = val
			}
		}
	}
	defer v.teardown(performed)

	request := generate.ApplyRequest(interaction.Request, genCtx)
	actual, err := v.client.Replay(v.opts.Provider, request)
	if err != nil {
		result.Outcome = Errored
		result.Error = err.Error()
		result.Elapsed = time.Since(started)
		return result
	}

	mismatches := matching.MatchResponse(interaction.Response, actual, pact.SpecVersion, v.opts.Matching)
	result.Elapsed = time.Since(started)
	if len(mismatches) > 0 {
		result.Outcome = Failed
		result.Mismatches = mismatches
		return result
	}
	result.Outcome = Success
	return result
}

// teardown reverses the performed state changes when configured.
func (v *Verifier) teardown(performed []pactmodel.ProviderState) {
	if !v.opts.StateChange.Teardown || v.opts.StateChange.URL == "" {
		return
	}
	for i := len(performed) - 1; i >= 0; i-- {
		if _, err := v.client.StateChange(v.opts.StateChange, performed[i], "teardown"); err != nil {
			log.Warnf("state teardown %q failed: %v", performed[i].Name, err)
		}
	}
}

// publish posts the pact's results back to the broker. A rejection is
// logged but never affects the run's exit status.
func (v *Verifier) publish(source PactSource, lp LoadedPact, results []VerificationResult) {
	success := true
	testResults := make([]interface{}, 0, len(results))
	for _, r := range results {
		if !r.Ok() && !r.Pending {
			success = false
		}
		entry := map[string]interface{}{
			"interactionId": r.InteractionKey,
			"success":       r.Ok(),
		}
		if len(r.Mismatches) > 0 {
			mismatches := make([]interface{}, 0, len(r.Mismatches))
			for _, m := range r.Mismatches {
				mismatches = append(mismatches, m.ToJSON())
			}
			entry["mismatches"] = mismatches
		}
		testResults = append(testResults, entry)
	}

	payload := map[string]interface{}{
		"success":                    success,
		"providerApplicationVersion": v.opts.ProviderVersion,
		"verifiedBy": map[string]interface{}{
			"implementation": "pact-core",
			"version":        toolVersion,
		},
		"testResults": testResults,
	}
	if len(v.opts.ProviderTags) > 0 {
		payload["providerTags"] = v.opts.ProviderTags
	}
	if v.opts.ProviderBranch != "" {
		payload["providerBranch"] = v.opts.ProviderBranch
	}
	if v.opts.BuildURL != "" {
		payload["buildUrl"] = v.opts.BuildURL
	}

	broker := newBrokerClient(v.fetcher, source)
	if err := broker.PublishResults(lp.PublishLink, payload); err != nil {
		log.Warnf("unable to publish verification results: %v", err)
		return
	}
	for i := range results {
		results[i].Published = true
	}
	log.WithField("pact", lp.Pact.Source).Info("verification results published")
}
