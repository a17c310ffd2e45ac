package pactmodel

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Pacticipant names one side of a contract.
type Pacticipant struct {
	Name string `json:"name"`
}

// Pact is the root entity: a consumer, a provider and the interactions
// recorded between them. Immutable after load.
type Pact struct {
	Consumer     Pacticipant
	Provider     Pacticipant
	Interactions []*Interaction
	Metadata     map[string]interface{}
	SpecVersion  SpecVersion

	// Source records where the pact was loaded from, for diagnostics.
	Source string
}

// NewPact returns an empty V4 pact between the named parties.
func NewPact(consumer, provider string) *Pact {
	return &Pact{
		Consumer:    Pacticipant{Name: consumer},
		Provider:    Pacticipant{Name: provider},
		SpecVersion: V4,
		Metadata:    map[string]interface{}{},
	}
}

// FindInteraction locates an interaction by V4 key, falling back to the
// pre-V4 description/state identity.
func (p *Pact) FindInteraction(target *Interaction) *Interaction {
	for _, i := range p.Interactions {
		if p.SpecVersion >= V4 && i.Key() == target.Key() {
			return i
		}
		if i.UniqueKey() == target.UniqueKey() {
			return i
		}
	}
	return nil
}

// Validate checks the structural invariants: both parties named and
// interaction identities unique.
func (p *Pact) Validate() error {
	if p.Consumer.Name == "" {
		return errors.New("pact has no consumer name")
	}
	if p.Provider.Name == "" {
		return errors.New("pact has no provider name")
	}
	seen := map[string]string{}
	for _, i := range p.Interactions {
		key := i.UniqueKey()
		if prev, dup := seen[key]; dup {
			return errors.Errorf("duplicate interaction %q (same description and provider states as %q)", i.Description, prev)
		}
		seen[key] = i.Description
	}
	return nil
}

// ReadPact decodes a pact document, detecting its spec version from
// metadata.pactSpecification.version (defaulting to V2 when absent).
// Unknown fields are tolerated.
func ReadPact(data []byte) (*Pact, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse pact JSON")
	}
	version := detectSpecVersion(raw)

	pact := &Pact{SpecVersion: version, Metadata: map[string]interface{}{}}
	if md, ok := raw["metadata"].(map[string]interface{}); ok {
		pact.Metadata = md
	}
	consumer, ok := raw["consumer"].(map[string]interface{})
	if !ok {
		return nil, errors.New("pact has no consumer")
	}
	pact.Consumer.Name = strAttr(consumer, "name")
	provider, ok := raw["provider"].(map[string]interface{})
	if !ok {
		return nil, errors.New("pact has no provider")
	}
	pact.Provider.Name = strAttr(provider, "name")
	if pact.Consumer.Name == "" || pact.Provider.Name == "" {
		return nil, errors.New("pact consumer and provider names must be non-empty")
	}

	interactionsKey := "interactions"
	if _, hasMessages := raw["messages"]; hasMessages && version == V3 {
		interactionsKey = "messages"
	}
	if list, ok := raw[interactionsKey].([]interface{}); ok {
		for n, item := range list {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("interaction %d is not an object", n)
			}
			interaction, err := ParseInteraction(obj, version)
			if err != nil {
				return nil, err
			}
			if interactionsKey == "messages" {
				interaction.Type = AsynchronousMessages
			}
			pact.Interactions = append(pact.Interactions, interaction)
		}
	}
	if err := pact.Validate(); err != nil {
		return nil, err
	}
	return pact, nil
}

func detectSpecVersion(raw map[string]interface{}) SpecVersion {
	md, ok := raw["metadata"].(map[string]interface{})
	if !ok {
		return V2
	}
	if spec, ok := md["pactSpecification"].(map[string]interface{}); ok {
		if v, ok := spec["version"].(string); ok {
			if version, err := ParseSpecVersion(v); err == nil {
				return version
			}
		}
	}
	// The pre-V3 metadata key.
	if spec, ok := md["pact-specification"].(map[string]interface{}); ok {
		if v, ok := spec["version"].(string); ok {
			if version, err := ParseSpecVersion(v); err == nil {
				return version
			}
		}
	}
	if v, ok := md["pactSpecificationVersion"].(string); ok {
		if version, err := ParseSpecVersion(v); err == nil {
			return version
		}
	}
	return V2
}

// LoadPactFile reads and decodes a pact from disk.
func LoadPactFile(path string) (*Pact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read pact file %s", path)
	}
	pact, err := ReadPact(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load pact file %s", path)
	}
	pact.Source = path
	return pact, nil
}

// ToJSON encodes the pact at the given spec version. Interactions are
// written in their recorded order.
func (p *Pact) ToJSON(version SpecVersion) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	interactions := make([]interface{}, 0, len(p.Interactions))
	for _, i := range p.Interactions {
		obj, err := i.ToJSON(version)
		if err != nil {
			return nil, err
		}
		interactions = append(interactions, obj)
	}

	metadata := map[string]interface{}{}
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	metadata["pactSpecification"] = map[string]interface{}{"version": version.String()}

	doc := map[string]interface{}{
		"consumer":     map[string]interface{}{"name": p.Consumer.Name},
		"provider":     map[string]interface{}{"name": p.Provider.Name},
		"interactions": interactions,
		"metadata":     metadata,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DefaultFileName is the conventional consumer-provider.json name.
func (p *Pact) DefaultFileName() string {
	return p.Consumer.Name + "-" + p.Provider.Name + ".json"
}

// SortInteractions orders interactions by description then states for
// stable output.
func (p *Pact) SortInteractions() {
	sort.SliceStable(p.Interactions, func(a, b int) bool {
		if p.Interactions[a].Description != p.Interactions[b].Description {
			return p.Interactions[a].Description < p.Interactions[b].Description
		}
		return p.Interactions[a].UniqueKey() < p.Interactions[b].UniqueKey()
	})
}
