package verifier

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

// SourceKind discriminates where pacts are fetched from.
type SourceKind int

const (
	FileSource SourceKind = iota
	DirSource
	URLSource
	BrokerSource
	WebhookSource
)

// PactSource is one place to load pacts from.
type PactSource struct {
	Kind SourceKind
	// Path or URL of the source.
	Location string
	// Basic-auth credentials or bearer token for URL and broker sources.
	Username string
	Password string
	Token    string
	// Broker selection inputs.
	Selectors      []ConsumerVersionSelector
	ProviderBranch string
	EnablePending  bool
	IncludeWipSince string
}

// ConsumerVersionSelector narrows which consumer versions a broker
// returns pacts for. Fields are forwarded to the broker verbatim.
type ConsumerVersionSelector struct {
	MainBranch     bool   `json:"mainBranch,omitempty"`
	MatchingBranch bool   `json:"matchingBranch,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Tag            string `json:"tag,omitempty"`
	FallbackTag    string `json:"fallbackTag,omitempty"`
	Latest         bool   `json:"latest,omitempty"`
	Deployed       bool   `json:"deployed,omitempty"`
	Released       bool   `json:"released,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Consumer       string `json:"consumer,omitempty"`
}

// LoadedPact couples a pact with the broker bookkeeping needed later for
// pending semantics and result publication.
type LoadedPact struct {
	Pact        *pactmodel.Pact
	Pending     bool
	PublishLink string
	Notices     []string
}

// authorise applies the source credentials to an outbound request.
func (s PactSource) authorise(req *http.Request) {
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	} else if s.Username != "" {
		req.SetBasicAuth(s.Username, s.Password)
	}
}

// Load fetches the pacts of one source. Errors are fatal for the source
// only; the caller decides whether an empty result fails the run.
func (s PactSource) Load(client *http.Client, providerName string) ([]LoadedPact, error) {
	switch s.Kind {
	case FileSource:
		pact, err := pactmodel.LoadPactFile(s.Location)
		if err != nil {
			return nil, err
		}
		return []LoadedPact{{Pact: pact}}, nil

	case DirSource:
		entries, err := os.ReadDir(s.Location)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read pact directory %s", s.Location)
		}
		var out []LoadedPact
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(s.Location, entry.Name())
			pact, err := pactmodel.LoadPactFile(path)
			if err != nil {
				log.WithField("file", path).Warnf("skipping unloadable pact: %v", err)
				continue
			}
			if providerName != "" && pact.Provider.Name != providerName {
				log.WithFields(log.Fields{"file": path, "provider": pact.Provider.Name}).
					Debug("skipping pact for a different provider")
				continue
			}
			out = append(out, LoadedPact{Pact: pact})
		}
		return out, nil

	case URLSource, WebhookSource:
		pact, err := fetchPactURL(client, s)
		if err != nil {
			return nil, err
		}
		return []LoadedPact{{Pact: pact}}, nil

	case BrokerSource:
		broker := newBrokerClient(client, s)
		return broker.PactsForVerification(providerName)
	}
	return nil, errors.Errorf("unsupported pact source kind %d", s.Kind)
}

func fetchPactURL(client *http.Client, s PactSource) (*pactmodel.Pact, error) {
	req, err := http.NewRequest(http.MethodGet, s.Location, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pact URL %s", s.Location)
	}
	s.authorise(req)
	res, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to fetch pact from %s", s.Location)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching pact from %s returned status %d", s.Location, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read pact response")
	}
	pact, err := pactmodel.ReadPact(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load pact from %s", s.Location)
	}
	pact.Source = s.Location
	return pact, nil
}
