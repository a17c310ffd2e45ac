package verifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

// ProviderInfo describes how to reach the provider under verification.
type ProviderInfo struct {
	Scheme   string
	Hostname string
	Port     int
	BasePath string
	// CustomHeaders are added to every replayed request without ever
	// overwriting a header the interaction supplies.
	CustomHeaders map[string]string
}

// BaseURL renders the provider root.
func (p ProviderInfo) BaseURL() string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := p.Hostname
	if host == "" {
		host = "localhost"
	}
	base := fmt.Sprintf("%s://%s", scheme, host)
	if p.Port > 0 {
		base = fmt.Sprintf("%s:%d", base, p.Port)
	}
	return base + strings.TrimSuffix(p.BasePath, "/")
}

// StateChangeConfig describes the provider's state-change endpoint.
type StateChangeConfig struct {
	URL      string
	AsQuery  bool
	Teardown bool
	Retries  uint
}

// providerClient issues the state-change and replay calls for one
// verification run.
type providerClient struct {
	client *http.Client
}

func newProviderClient(timeout time.Duration, transport http.RoundTripper) *providerClient {
	return &providerClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// StateChange invokes the state endpoint for one provider state. The
// response body, when a JSON object, is returned for merging into the
// generator context. Transport errors are retried with backoff.
func (p *providerClient) StateChange(cfg StateChangeConfig, state pactmodel.ProviderState, action string) (map[string]interface{}, error) {
	attempts := cfg.Retries
	if attempts == 0 {
		attempts = 3
	}

	var values map[string]interface{}
	err := retry.Do(func() error {
		req, err := stateChangeRequest(cfg, state, action)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		res, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return retry.Unrecoverable(errors.Errorf("state change %q (%s) returned status %d", state.Name, action, res.StatusCode))
		}
		data, err := io.ReadAll(res.Body)
		if err != nil || len(data) == 0 {
			return nil
		}
		var body map[string]interface{}
		if err := json.Unmarshal(data, &body); err == nil {
			values = body
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, err
	}
	return values, nil
}

func stateChangeRequest(cfg StateChangeConfig, state pactmodel.ProviderState, action string) (*http.Request, error) {
	if cfg.AsQuery {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid state change URL %s", cfg.URL)
		}
		q := u.Query()
		q.Set("state", state.Name)
		q.Set("action", action)
		for k, v := range state.Params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		return http.NewRequest(http.MethodPost, u.String(), nil)
	}

	params := state.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"state":  state.Name,
		"params": params,
		"action": action,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid state change URL %s", cfg.URL)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Replay issues the materialised request against the provider and
// captures the response as a pact part. Timeouts are not retried.
func (p *providerClient) Replay(provider ProviderInfo, request pactmodel.Request) (pactmodel.Response, error) {
	target := provider.BaseURL() + request.Path
	if query := pactmodel.EncodeQueryString(request.Query); query != "" {
		target += "?" + query
	}

	var bodyReader io.Reader
	if request.Body.IsPresent() {
		bodyReader = bytes.NewReader(request.Body.Value)
	}
	req, err := http.NewRequest(strings.ToUpper(request.Method), target, bodyReader)
	if err != nil {
		return pactmodel.Response{}, errors.Wrapf(err, "unable to build the request for %s", target)
	}
	for name, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if request.Body.IsPresent() && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", request.Body.DetectContentType().String())
	}
	for name, value := range provider.CustomHeaders {
		if req.Header.Get(name) == "" {
			req.Header.Set(name, value)
		}
	}

	log.WithFields(log.Fields{"method": req.Method, "url": target}).Debug("replaying request")
	res, err := p.client.Do(req)
	if err != nil {
		return pactmodel.Response{}, errors.Wrapf(err, "request to %s failed", target)
	}
	defer res.Body.Close()

	response := pactmodel.NewResponse()
	response.Status = res.StatusCode
	for name, values := range res.Header {
		response.Headers[name] = append([]string(nil), values...)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return pactmodel.Response{}, errors.Wrap(err, "unable to read the provider response")
	}
	response.Body = pactmodel.PresentBody(data, res.Header.Get("Content-Type"))
	return response, nil
}
