package verifier

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	retry "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

const pactsForVerificationRel = "pb:provider-pacts-for-verification"
const publishResultsRel = "pb:publish-verification-results"

type brokerClient struct {
	client *http.Client
	source PactSource
}

func newBrokerClient(client *http.Client, source PactSource) *brokerClient {
	return &brokerClient{client: client, source: source}
}

func (b *brokerClient) get(url string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	err := retry.Do(func() error {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Accept", "application/hal+json, application/json")
		b.source.authorise(req)
		res, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 500 {
			return errors.Errorf("broker returned status %d for %s", res.StatusCode, url)
		}
		if res.StatusCode != http.StatusOK {
			return retry.Unrecoverable(errors.Errorf("broker returned status %d for %s", res.StatusCode, url))
		}
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &doc)
	}, retry.Attempts(3))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// link extracts a HAL link href by relation name.
func link(doc map[string]interface{}, rel string) (string, error) {
	value, err := jsonpath.Get("$._links[\""+rel+"\"].href", interface{}(doc))
	if err != nil {
		return "", errors.Errorf("the document has no %q link", rel)
	}
	href, ok := value.(string)
	if !ok {
		return "", errors.Errorf("the %q link is not a string", rel)
	}
	return href, nil
}

// expandTemplate substitutes URL-template placeholders like {provider}.
func expandTemplate(href string, values map[string]string) string {
	for k, v := range values {
		href = strings.ReplaceAll(href, "{"+k+"}", v)
	}
	return href
}

// PactsForVerification navigates the broker index to the
// pacts-for-verification resource, posts the consumer selection and
// fetches every returned pact.
func (b *brokerClient) PactsForVerification(providerName string) ([]LoadedPact, error) {
	index, err := b.get(strings.TrimSuffix(b.source.Location, "/") + "/")
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch the broker index")
	}
	href, err := link(index, pactsForVerificationRel)
	if err != nil {
		return nil, errors.Wrap(err, "the broker does not support pacts-for-verification")
	}
	href = expandTemplate(href, map[string]string{"provider": providerName})

	body := map[string]interface{}{
		"includePendingStatus": b.source.EnablePending,
	}
	if len(b.source.Selectors) > 0 {
		body["consumerVersionSelectors"] = b.source.Selectors
	}
	if b.source.ProviderBranch != "" {
		body["providerVersionBranch"] = b.source.ProviderBranch
	}
	if b.source.IncludeWipSince != "" {
		body["includeWipPactsSince"] = b.source.IncludeWipSince
	}

	doc, err := b.post(href, body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query pacts for verification")
	}

	entries, err := jsonpath.Get("$._embedded.pacts", interface{}(doc))
	if err != nil {
		log.Debug("the broker returned no pacts for verification")
		return nil, nil
	}
	list, ok := entries.([]interface{})
	if !ok {
		return nil, errors.New("the broker pacts listing is not a list")
	}

	var out []LoadedPact
	for _, entry := range list {
		item, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		selfHref, err := link(item, "self")
		if err != nil {
			return nil, errors.Wrap(err, "a broker pact entry has no self link")
		}
		loaded, err := b.fetchPact(selfHref)
		if err != nil {
			return nil, err
		}
		if props, ok := item["verificationProperties"].(map[string]interface{}); ok {
			if pending, ok := props["pending"].(bool); ok {
				loaded.Pending = pending
			}
			if notices, ok := props["notices"].([]interface{}); ok {
				for _, n := range notices {
					if notice, ok := n.(map[string]interface{}); ok {
						if text, ok := notice["text"].(string); ok {
							loaded.Notices = append(loaded.Notices, text)
						}
					}
				}
			}
		}
		out = append(out, loaded)
	}
	return out, nil
}

func (b *brokerClient) post(url string, body interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	err = retry.Do(func() error {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/hal+json, application/json")
		b.source.authorise(req)
		res, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 500 {
			return errors.Errorf("broker returned status %d for %s", res.StatusCode, url)
		}
		if res.StatusCode >= 300 {
			return retry.Unrecoverable(errors.Errorf("broker returned status %d for %s", res.StatusCode, url))
		}
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &doc)
	}, retry.Attempts(3))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// fetchPact retrieves one pact document and captures its publish link.
func (b *brokerClient) fetchPact(url string) (LoadedPact, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return LoadedPact{}, errors.Wrapf(err, "invalid pact link %s", url)
	}
	b.source.authorise(req)
	res, err := b.client.Do(req)
	if err != nil {
		return LoadedPact{}, errors.Wrapf(err, "unable to fetch pact from %s", url)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return LoadedPact{}, errors.Errorf("fetching pact from %s returned status %d", url, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return LoadedPact{}, err
	}
	pact, err := pactmodel.ReadPact(data)
	if err != nil {
		return LoadedPact{}, errors.Wrapf(err, "unable to load pact from %s", url)
	}
	pact.Source = url

	loaded := LoadedPact{Pact: pact}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err == nil {
		if publish, err := link(doc, publishResultsRel); err == nil {
			loaded.PublishLink = publish
		}
	}
	return loaded, nil
}

// PublishResults posts the verification outcome of one pact back to the
// broker. Failures are non-fatal for the run.
func (b *brokerClient) PublishResults(publishLink string, payload map[string]interface{}) error {
	_, err := b.post(publishLink, payload)
	return err
}
