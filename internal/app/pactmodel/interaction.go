package pactmodel

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// InteractionType discriminates the V4 interaction variants.
type InteractionType string

const (
	SynchronousHTTP      InteractionType = "Synchronous/HTTP"
	AsynchronousMessages InteractionType = "Asynchronous/Messages"
	SynchronousMessages  InteractionType = "Synchronous/Messages"
)

// ProviderState is a named precondition with optional parameters.
type ProviderState struct {
	Name   string
	Params map[string]interface{}
}

// Comments carries V4 interaction annotations.
type Comments struct {
	TestName string
	Text     []string
}

// MessageContents is the payload side of a message interaction.
type MessageContents struct {
	Contents      OptionalBody
	Metadata      map[string]interface{}
	MatchingRules *MatchingRules
	Generators    *Generators
}

// NewMessageContents returns empty message contents.
func NewMessageContents() MessageContents {
	return MessageContents{
		Contents:      MissingBody(),
		Metadata:      map[string]interface{}{},
		MatchingRules: NewMatchingRules(),
		Generators:    NewGenerators(),
	}
}

// Interaction is one expected exchange. Type selects which fields are
// meaningful: Request/Response for HTTP, Message for asynchronous messages,
// RequestMessage/ResponseMessages for synchronous messages.
type Interaction struct {
	Type           InteractionType
	Description    string
	ProviderStates []ProviderState
	Pending        bool
	Comments       Comments
	Transport      string
	PluginConfig   map[string]interface{}

	Request  Request
	Response Response

	Message          MessageContents
	RequestMessage   MessageContents
	ResponseMessages []MessageContents

	key string
}

// NewHTTPInteraction returns an empty request/response interaction.
func NewHTTPInteraction(description string) *Interaction {
	return &Interaction{
		Type:        SynchronousHTTP,
		Description: description,
		Request:     NewRequest(),
		Response:    NewResponse(),
	}
}

// IsHTTP reports whether this is a request/response interaction.
func (i *Interaction) IsHTTP() bool {
	return i.Type == "" || i.Type == SynchronousHTTP
}

// StateNames returns the provider state names, sorted.
func (i *Interaction) StateNames() []string {
	names := make([]string, 0, len(i.ProviderStates))
	for _, s := range i.ProviderStates {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// UniqueKey identifies an interaction for pre-V4 duplicate detection.
func (i *Interaction) UniqueKey() string {
	return i.Description + "::" + strings.Join(i.StateNames(), "::")
}

// Key returns the stable 16-hex-character V4 interaction key, derived from
// the description, states and contents. Computed lazily and cached.
func (i *Interaction) Key() string {
	if i.key == "" {
		i.key = i.computeKey()
	}
	return i.key
}

// SetKey overrides the key, used when loading a pact that already has one.
func (i *Interaction) SetKey(key string) {
	i.key = key
}

func (i *Interaction) computeKey() string {
	h := fnv.New64a()
	h.Write([]byte(i.Description))
	for _, s := range i.ProviderStates {
		h.Write([]byte(s.Name))
		if len(s.Params) > 0 {
			if raw, err := json.Marshal(s.Params); err == nil {
				h.Write(raw)
			}
		}
	}
	switch {
	case i.IsHTTP():
		raw, _ := json.Marshal(i.Request.ToJSON(V4))
		h.Write(raw)
		raw, _ = json.Marshal(i.Response.ToJSON(V4))
		h.Write(raw)
	case i.Type == AsynchronousMessages:
		h.Write(i.Message.Contents.Value)
	case i.Type == SynchronousMessages:
		h.Write(i.RequestMessage.Contents.Value)
		for _, r := range i.ResponseMessages {
			h.Write(r.Contents.Value)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func parseProviderStates(raw map[string]interface{}, version SpecVersion) []ProviderState {
	if list, ok := raw["providerStates"].([]interface{}); ok {
		states := make([]ProviderState, 0, len(list))
		for _, item := range list {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			state := ProviderState{Name: strAttr(obj, "name")}
			if params, ok := obj["params"].(map[string]interface{}); ok {
				state.Params = params
			}
			states = append(states, state)
		}
		return states
	}
	// Pre-V3 single state string.
	if s, ok := raw["providerState"].(string); ok && s != "" {
		return []ProviderState{{Name: s}}
	}
	if s, ok := raw["provider_state"].(string); ok && s != "" {
		return []ProviderState{{Name: s}}
	}
	return nil
}

func providerStatesToJSON(states []ProviderState, version SpecVersion) (string, []interface{}) {
	if len(states) == 0 {
		return "", nil
	}
	if version < V3 {
		return states[0].Name, nil
	}
	out := make([]interface{}, 0, len(states))
	for _, s := range states {
		obj := map[string]interface{}{"name": s.Name}
		if len(s.Params) > 0 {
			obj["params"] = s.Params
		}
		out = append(out, obj)
	}
	return "", out
}

func parseMessageContents(raw map[string]interface{}, version SpecVersion) (MessageContents, error) {
	contents := NewMessageContents()
	var err error
	if version >= V4 {
		contents.Contents, err = parseV4BodyJSON(raw["contents"])
	} else {
		body, present := raw["contents"]
		contents.Contents, err = parseBodyJSON(body, present, "")
	}
	if err != nil {
		return contents, err
	}
	if md, ok := raw["metadata"].(map[string]interface{}); ok {
		contents.Metadata = md
	}
	if contents.Contents.ContentType == "" {
		if ct, ok := contents.Metadata["contentType"].(string); ok {
			contents.Contents.ContentType = ct
		}
	}
	if err := parsePartRules(raw, version, contents.MatchingRules, contents.Generators); err != nil {
		return contents, err
	}
	return contents, nil
}

func (m MessageContents) toJSON(version SpecVersion) map[string]interface{} {
	out := map[string]interface{}{}
	if body, ok := bodyToJSON(m.Contents, version); ok {
		out["contents"] = body
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = m.Metadata
	}
	if rules := m.MatchingRules.ToJSON(version); rules != nil {
		out["matchingRules"] = rules
	}
	if gens := m.Generators.ToJSON(); gens != nil {
		out["generators"] = gens
	}
	return out
}

// ParseInteraction decodes one interaction object of any spec version.
func ParseInteraction(raw map[string]interface{}, version SpecVersion) (*Interaction, error) {
	description, ok := raw["description"].(string)
	if !ok || description == "" {
		return nil, errors.New("interaction has no description")
	}
	i := &Interaction{
		Type:           SynchronousHTTP,
		Description:    description,
		ProviderStates: parseProviderStates(raw, version),
	}
	if t, ok := raw["type"].(string); ok && version >= V4 {
		i.Type = InteractionType(t)
	} else if _, isMessage := raw["contents"]; isMessage && version == V3 {
		i.Type = AsynchronousMessages
	}
	if key, ok := raw["key"].(string); ok {
		i.SetKey(key)
	}
	if pending, ok := raw["pending"].(bool); ok {
		i.Pending = pending
	}
	if transport, ok := raw["transport"].(string); ok {
		i.Transport = transport
	}
	if cfg, ok := raw["pluginConfiguration"].(map[string]interface{}); ok {
		i.PluginConfig = cfg
	}
	if comments, ok := raw["comments"].(map[string]interface{}); ok {
		i.Comments.TestName = strAttr(comments, "testname")
		if text, ok := comments["text"].([]interface{}); ok {
			for _, t := range text {
				if s, ok := t.(string); ok {
					i.Comments.Text = append(i.Comments.Text, s)
				}
			}
		}
	}

	var err error
	switch i.Type {
	case SynchronousHTTP:
		if req, ok := raw["request"].(map[string]interface{}); ok {
			i.Request, err = ParseRequest(req, version)
			if err != nil {
				return nil, errors.Wrapf(err, "interaction %q has an invalid request", description)
			}
		} else {
			i.Request = NewRequest()
		}
		if res, ok := raw["response"].(map[string]interface{}); ok {
			i.Response, err = ParseResponse(res, version)
			if err != nil {
				return nil, errors.Wrapf(err, "interaction %q has an invalid response", description)
			}
		} else {
			i.Response = NewResponse()
		}
	case AsynchronousMessages:
		i.Message, err = parseMessageContents(raw, version)
		if err != nil {
			return nil, errors.Wrapf(err, "message %q has invalid contents", description)
		}
	case SynchronousMessages:
		if req, ok := raw["request"].(map[string]interface{}); ok {
			i.RequestMessage, err = parseMessageContents(req, version)
			if err != nil {
				return nil, errors.Wrapf(err, "message %q has an invalid request", description)
			}
		}
		if resList, ok := raw["response"].([]interface{}); ok {
			for n, item := range resList {
				obj, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				contents, err := parseMessageContents(obj, version)
				if err != nil {
					return nil, errors.Wrapf(err, "message %q has an invalid response %d", description, n)
				}
				i.ResponseMessages = append(i.ResponseMessages, contents)
			}
		}
	default:
		return nil, errors.Errorf("interaction %q has unsupported type %q", description, i.Type)
	}
	return i, nil
}

// ToJSON encodes the interaction for the given spec version. Message
// interactions cannot be written below V3.
func (i *Interaction) ToJSON(version SpecVersion) (map[string]interface{}, error) {
	if !i.IsHTTP() && !version.SupportsMessages() {
		return nil, errors.Errorf("interaction %q is a message and cannot be written as spec version %s", i.Description, version)
	}
	out := map[string]interface{}{"description": i.Description}

	single, list := providerStatesToJSON(i.ProviderStates, version)
	if single != "" {
		out["providerState"] = single
	}
	if list != nil {
		out["providerStates"] = list
	}

	if version >= V4 {
		interactionType := i.Type
		if interactionType == "" {
			interactionType = SynchronousHTTP
		}
		out["type"] = string(interactionType)
		out["key"] = i.Key()
		out["pending"] = i.Pending
		if i.Transport != "" {
			out["transport"] = i.Transport
		}
		if len(i.PluginConfig) > 0 {
			out["pluginConfiguration"] = i.PluginConfig
		}
		if i.Comments.TestName != "" || len(i.Comments.Text) > 0 {
			comments := map[string]interface{}{}
			if i.Comments.TestName != "" {
				comments["testname"] = i.Comments.TestName
			}
			if len(i.Comments.Text) > 0 {
				comments["text"] = i.Comments.Text
			}
			out["comments"] = comments
		}
	}

	switch {
	case i.IsHTTP():
		out["request"] = i.Request.ToJSON(version)
		out["response"] = i.Response.ToJSON(version)
	case i.Type == AsynchronousMessages:
		for k, v := range i.Message.toJSON(version) {
			out[k] = v
		}
	case i.Type == SynchronousMessages:
		out["request"] = i.RequestMessage.toJSON(version)
		responses := make([]interface{}, 0, len(i.ResponseMessages))
		for _, r := range i.ResponseMessages {
			responses = append(responses, r.toJSON(version))
		}
		out["response"] = responses
	}
	return out, nil
}
