package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/form3tech-oss/pact-core/internal/app/verifier"
)

const (
	exitFailure     = 1
	exitNoPactsFound = 2
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(exitFailure)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "pact-verifier",
		Short:         "Verify a provider against the pacts its consumers recorded",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()

	// Loading
	flags.StringSlice("file", nil, "Pact file to verify")
	flags.StringSlice("dir", nil, "Directory of pact files to verify")
	flags.StringSlice("url", nil, "URL of a pact file to verify")
	flags.String("broker-url", "", "Base URL of the pact broker")
	flags.StringSlice("webhook-callback-url", nil, "URL of a changed pact delivered by a broker webhook")
	flags.Bool("ignore-no-pacts-error", false, "Treat no pacts found as a warning instead of an error")

	// Auth
	flags.String("user", "", "Basic auth username for the broker or pact URLs")
	flags.String("password", "", "Basic auth password")
	flags.String("token", "", "Bearer token for the broker or pact URLs")

	// Provider
	flags.String("hostname", "localhost", "Provider hostname")
	flags.Int("port", 8080, "Provider port")
	flags.String("transport", "http", "Provider transport (http or https)")
	flags.StringSlice("transports", nil, "Additional provider transports as name:port entries")
	flags.String("provider-name", "", "Name of the provider under verification")
	flags.String("base-path", "", "Base path prefixed to every replayed request")
	flags.Uint("request-timeout", 5000, "Timeout in milliseconds for every HTTP call")
	flags.StringArray("header", nil, "Custom header added to replayed requests, K=V")
	flags.Bool("disable-ssl-verification", false, "Skip TLS certificate verification")

	// State
	flags.String("state-change-url", "", "URL of the provider state change endpoint")
	flags.Bool("state-change-as-query", false, "Send state change parameters as query parameters instead of a JSON body")
	flags.Bool("state-change-teardown", false, "Call the state change endpoint with action=teardown after each interaction")

	// Filtering
	flags.String("filter-description", "", "Only verify interactions whose description matches this regex")
	flags.String("filter-state", "", "Only verify interactions whose provider state matches this regex")
	flags.Bool("filter-no-state", false, "Only verify interactions with no provider state")
	flags.StringSlice("filter-consumer", nil, "Only verify pacts of these consumers")

	// Publishing
	flags.Bool("publish", false, "Publish verification results to the broker")
	flags.String("provider-version", "", "Provider version used when publishing results")
	flags.String("build-url", "", "Build URL attached to published results")
	flags.StringSlice("provider-tags", nil, "Provider tags attached to published results")
	flags.String("provider-branch", "", "Provider branch attached to published results")

	// Broker selectors
	flags.StringSlice("consumer-version-tags", nil, "Consumer version tags to fetch pacts for")
	flags.StringArray("consumer-version-selectors", nil, "Consumer version selectors as JSON objects")
	flags.Bool("enable-pending", false, "Enable pending pact semantics")
	flags.String("include-wip-pacts-since", "", "Include work-in-progress pacts created after this date")

	// Reporting
	flags.String("json", "", "Write the verification results as JSON to this file")
	flags.String("junit", "", "Write the verification results as a JUnit report to this file")
	flags.Bool("no-colour", false, "Disable ANSI colours in the output")

	// Development
	flags.Bool("exit-on-first-error", false, "Stop after the first non-pending failure")
	flags.Bool("last-failed", false, "Only verify the interactions that failed in the previous run")

	// Every flag has a PACT_-prefixed environment variable alias.
	v.SetEnvPrefix("PACT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			log.Fatal(err)
		}
	})

	return cmd
}

func run(v *viper.Viper) error {
	opts, err := optionsFromConfig(v)
	if err != nil {
		return err
	}

	result, err := verifier.New(opts).Verify()
	reporter := verifier.NewReporter(v.GetBool("no-colour"))
	reporter.Report(result)

	if path := v.GetString("json"); path != "" {
		if err := result.WriteJSON(path); err != nil {
			log.Error(err)
		}
	}
	if path := v.GetString("junit"); path != "" {
		if err := result.WriteJUnit(path); err != nil {
			log.Error(err)
		}
	}

	if err != nil {
		if result.NoPactsFound {
			log.Error(err)
			os.Exit(exitNoPactsFound)
		}
		return err
	}
	if !result.Passed() {
		os.Exit(exitFailure)
	}
	return nil
}

func optionsFromConfig(v *viper.Viper) (verifier.Options, error) {
	opts := verifier.Options{
		Provider: verifier.ProviderInfo{
			Scheme:        v.GetString("transport"),
			Hostname:      v.GetString("hostname"),
			Port:          v.GetInt("port"),
			BasePath:      v.GetString("base-path"),
			CustomHeaders: map[string]string{},
		},
		ProviderName: v.GetString("provider-name"),
		StateChange: verifier.StateChangeConfig{
			URL:      v.GetString("state-change-url"),
			AsQuery:  v.GetBool("state-change-as-query"),
			Teardown: v.GetBool("state-change-teardown"),
		},
		RequestTimeout:         time.Duration(v.GetUint("request-timeout")) * time.Millisecond,
		DisableSSLVerification: v.GetBool("disable-ssl-verification"),
		FilterDescription:      v.GetString("filter-description"),
		FilterState:            v.GetString("filter-state"),
		FilterNoState:          v.GetBool("filter-no-state"),
		FilterConsumers:        v.GetStringSlice("filter-consumer"),
		Publish:                v.GetBool("publish"),
		ProviderVersion:        v.GetString("provider-version"),
		ProviderTags:           v.GetStringSlice("provider-tags"),
		ProviderBranch:         v.GetString("provider-branch"),
		BuildURL:               v.GetString("build-url"),
		ExitOnFirstError:       v.GetBool("exit-on-first-error"),
		IgnoreNoPactsError:     v.GetBool("ignore-no-pacts-error"),
		LastFailed:             v.GetBool("last-failed"),
	}

	for _, h := range v.GetStringSlice("header") {
		parts := strings.SplitN(h, "=", 2)
		if len(parts) != 2 {
			return opts, fmt.Errorf("invalid header %q, expected K=V", h)
		}
		opts.Provider.CustomHeaders[parts[0]] = parts[1]
	}

	selectors, err := parseSelectors(v)
	if err != nil {
		return opts, err
	}

	for _, f := range v.GetStringSlice("file") {
		opts.Sources = append(opts.Sources, verifier.PactSource{Kind: verifier.FileSource, Location: f})
	}
	for _, d := range v.GetStringSlice("dir") {
		opts.Sources = append(opts.Sources, verifier.PactSource{Kind: verifier.DirSource, Location: d})
	}
	auth := func(s verifier.PactSource) verifier.PactSource {
		s.Username = v.GetString("user")
		s.Password = v.GetString("password")
		s.Token = v.GetString("token")
		return s
	}
	for _, u := range v.GetStringSlice("url") {
		opts.Sources = append(opts.Sources, auth(verifier.PactSource{Kind: verifier.URLSource, Location: u}))
	}
	for _, u := range v.GetStringSlice("webhook-callback-url") {
		opts.Sources = append(opts.Sources, auth(verifier.PactSource{Kind: verifier.WebhookSource, Location: u}))
	}
	if broker := v.GetString("broker-url"); broker != "" {
		opts.Sources = append(opts.Sources, auth(verifier.PactSource{
			Kind:            verifier.BrokerSource,
			Location:        broker,
			Selectors:       selectors,
			ProviderBranch:  v.GetString("provider-branch"),
			EnablePending:   v.GetBool("enable-pending"),
			IncludeWipSince: v.GetString("include-wip-pacts-since"),
		}))
	}

	if len(opts.Sources) == 0 {
		return opts, fmt.Errorf("no pact sources were given; use --file, --dir, --url or --broker-url")
	}
	return opts, nil
}

func parseSelectors(v *viper.Viper) ([]verifier.ConsumerVersionSelector, error) {
	var selectors []verifier.ConsumerVersionSelector
	for _, raw := range v.GetStringSlice("consumer-version-selectors") {
		var s verifier.ConsumerVersionSelector
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("invalid consumer version selector %q: %v", raw, err)
		}
		selectors = append(selectors, s)
	}
	for _, tag := range v.GetStringSlice("consumer-version-tags") {
		selectors = append(selectors, verifier.ConsumerVersionSelector{Tag: tag, Latest: true})
	}
	return selectors, nil
}
