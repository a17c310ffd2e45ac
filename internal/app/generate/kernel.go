package generate

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/form3tech-oss/pact-core/internal/app/matching"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
	"github.com/form3tech-oss/pact-core/internal/app/paths"
)

// ApplyRequest materialises a request from its template: every generator
// registered for the part runs in the context's mode and rewrites its
// target value. A failing generator keeps the template value and logs a
// warning; generation never aborts.
func ApplyRequest(req pactmodel.Request, ctx *Context) pactmodel.Request {
	out := req
	out.Headers = copyHeaders(req.Headers)
	out.Query = copyQuery(req.Query)

	if cat, ok := req.Generators.Lookup("path"); ok {
		if g, present := cat.Generators["$"]; present && g.AppliesTo(ctx.Mode) {
			if value, err := GenerateValue(g, req.Path, ctx); err == nil {
				out.Path = stringForm(value)
			} else {
				log.WithField("generator", g.Kind).Warnf("path generator failed: %v", err)
			}
		}
	}
	if cat, ok := req.Generators.Lookup("method"); ok {
		if g, present := cat.Generators["$"]; present && g.AppliesTo(ctx.Mode) {
			if value, err := GenerateValue(g, req.Method, ctx); err == nil {
				out.Method = strings.ToUpper(stringForm(value))
			} else {
				log.WithField("generator", g.Kind).Warnf("method generator failed: %v", err)
			}
		}
	}
	if cat, ok := req.Generators.Lookup("query"); ok {
		applyQueryGenerators(out.Query, cat, ctx)
	}
	if cat, ok := req.Generators.Lookup("header"); ok {
		applyHeaderGenerators(out.Headers, cat, ctx)
	} else if cat, ok := req.Generators.Lookup("headers"); ok {
		applyHeaderGenerators(out.Headers, cat, ctx)
	}
	if cat, ok := req.Generators.Lookup("body"); ok {
		out.Body = applyBodyGenerators(req.Body, cat, ctx)
	}
	return out
}

// ApplyResponse materialises a response from its template.
func ApplyResponse(res pactmodel.Response, ctx *Context) pactmodel.Response {
	out := res
	out.Headers = copyHeaders(res.Headers)

	if cat, ok := res.Generators.Lookup("status"); ok {
		if g, present := cat.Generators["$"]; present && g.AppliesTo(ctx.Mode) {
			if value, err := GenerateValue(g, res.Status, ctx); err == nil {
				if status, err := strconv.Atoi(stringForm(value)); err == nil {
					out.Status = status
				}
			} else {
				log.WithField("generator", g.Kind).Warnf("status generator failed: %v", err)
			}
		}
	}
	if cat, ok := res.Generators.Lookup("header"); ok {
		applyHeaderGenerators(out.Headers, cat, ctx)
	} else if cat, ok := res.Generators.Lookup("headers"); ok {
		applyHeaderGenerators(out.Headers, cat, ctx)
	}
	if cat, ok := res.Generators.Lookup("body"); ok {
		out.Body = applyBodyGenerators(res.Body, cat, ctx)
	}
	return out
}

// ApplyMessage materialises message contents and metadata.
func ApplyMessage(contents pactmodel.MessageContents, ctx *Context) pactmodel.MessageContents {
	out := contents
	out.Metadata = map[string]interface{}{}
	for k, v := range contents.Metadata {
		out.Metadata[k] = v
	}
	if cat, ok := contents.Generators.Lookup("body"); ok {
		out.Contents = applyBodyGenerators(contents.Contents, cat, ctx)
	} else if cat, ok := contents.Generators.Lookup("content"); ok {
		out.Contents = applyBodyGenerators(contents.Contents, cat, ctx)
	}
	if cat, ok := contents.Generators.Lookup("metadata"); ok {
		for key, g := range cat.Generators {
			if !g.AppliesTo(ctx.Mode) {
				continue
			}
			value, err := GenerateValue(g, out.Metadata[key], ctx)
			if err != nil {
				log.WithField("key", key).Warnf("metadata generator failed: %v", err)
				continue
			}
			out.Metadata[key] = value
		}
	}
	return out
}

func copyHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, v := range headers {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyQuery(query map[string][]pactmodel.QueryValue) map[string][]pactmodel.QueryValue {
	out := make(map[string][]pactmodel.QueryValue, len(query))
	for k, v := range query {
		out[k] = append([]pactmodel.QueryValue(nil), v...)
	}
	return out
}

func applyQueryGenerators(query map[string][]pactmodel.QueryValue, cat *pactmodel.GeneratorCategory, ctx *Context) {
	for name, g := range cat.Generators {
		if !g.AppliesTo(ctx.Mode) {
			continue
		}
		values, present := query[name]
		if !present {
			continue
		}
		for i := range values {
			if values[i].Missing {
				continue
			}
			value, err := GenerateValue(g, values[i].Value, ctx)
			if err != nil {
				log.WithField("parameter", name).Warnf("query generator failed: %v", err)
				continue
			}
			values[i] = pactmodel.StringValue(stringForm(value))
		}
	}
}

func applyHeaderGenerators(headers map[string][]string, cat *pactmodel.GeneratorCategory, ctx *Context) {
	for name, g := range cat.Generators {
		if !g.AppliesTo(ctx.Mode) {
			continue
		}
		for key, values := range headers {
			if !strings.EqualFold(key, name) {
				continue
			}
			for i := range values {
				value, err := GenerateValue(g, values[i], ctx)
				if err != nil {
					log.WithField("header", name).Warnf("header generator failed: %v", err)
					continue
				}
				values[i] = stringForm(value)
			}
		}
	}
}

// applyBodyGenerators rewrites a body from its generator category. JSON
// bodies are walked for every concrete path matching each generator's
// path expression (wildcards included) and rewritten in place; plain text
// and form bodies accept a root generator only.
func applyBodyGenerators(body pactmodel.OptionalBody, cat *pactmodel.GeneratorCategory, ctx *Context) pactmodel.OptionalBody {
	if body.State != pactmodel.BodyPresent || len(cat.Generators) == 0 {
		return body
	}
	ct := body.DetectContentType()
	switch {
	case ct.IsJSON():
		return applyJSONGenerators(body, cat, ctx)
	case ct.IsText():
		if g, ok := cat.Generators["$"]; ok && g.AppliesTo(ctx.Mode) {
			value, err := GenerateValue(g, string(body.Value), ctx)
			if err != nil {
				log.Warnf("body generator failed: %v", err)
				return body
			}
			out := body
			out.Value = []byte(stringForm(value))
			return out
		}
	default:
		log.WithField("contentType", ct.String()).Debug("no generator support for this body type")
	}
	return body
}

func applyJSONGenerators(body pactmodel.OptionalBody, cat *pactmodel.GeneratorCategory, ctx *Context) pactmodel.OptionalBody {
	tree, err := matching.ParseJSON(body.Value)
	if err != nil {
		log.Warnf("unable to parse JSON body for generation: %v", err)
		return body
	}

	value := append([]byte(nil), body.Value...)
	for expr, g := range cat.Generators {
		if !g.AppliesTo(ctx.Mode) {
			continue
		}
		pattern, err := paths.Parse(expr)
		if err != nil {
			log.WithField("path", expr).Warnf("ignoring unparseable generator path: %v", err)
			continue
		}
		for _, target := range resolvePaths(pattern, tree) {
			generated, err := GenerateValue(g, target.value, ctx)
			if err != nil {
				log.WithFields(log.Fields{"path": expr, "generator": g.Kind}).Warnf("generator failed, keeping template value: %v", err)
				continue
			}
			value, err = sjson.SetBytes(value, sjsonPath(target.path), normalise(generated))
			if err != nil {
				log.WithField("path", expr).Warnf("unable to write generated value: %v", err)
			}
		}
	}
	out := body
	out.Value = value
	return out
}

type resolved struct {
	path  paths.Path
	value interface{}
}

// resolvePaths walks the tree and returns every concrete path the pattern
// selects, with the value found there.
func resolvePaths(pattern paths.Path, tree interface{}) []resolved {
	var out []resolved
	var walk func(current paths.Path, node interface{})
	walk = func(current paths.Path, node interface{}) {
		if current.Len() == pattern.Len() {
			if pattern.Weight(current) > 0 {
				out = append(out, resolved{path: current, value: node})
			}
			return
		}
		switch val := node.(type) {
		case map[string]interface{}:
			for key, child := range val {
				walk(current.Child(key), child)
			}
		case []interface{}:
			for i, child := range val {
				walk(current.Elem(i), child)
			}
		}
	}
	walk(paths.RootPath(), tree)
	return out
}

// sjsonPath renders a concrete path in sjson's dotted syntax.
func sjsonPath(p paths.Path) string {
	var parts []string
	for _, t := range p.Tokens() {
		switch t.Kind {
		case paths.Field:
			name := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`).Replace(t.Name)
			parts = append(parts, name)
		case paths.Index:
			parts = append(parts, strconv.Itoa(t.Index))
		}
	}
	return strings.Join(parts, ".")
}

// normalise converts generated values to types sjson serialises natively.
func normalise(v interface{}) interface{} {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	default:
		return v
	}
}
