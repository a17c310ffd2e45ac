package matching

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/form3tech-oss/pact-core/internal/app/paths"
)

// xmlNode is the codec-private XML tree: one element with its attributes,
// child elements in document order and accumulated text content.
type xmlNode struct {
	Space    string
	Local    string
	Attrs    map[string]string
	Children []*xmlNode
	Text     string
}

// parseXML builds the element tree from document bytes.
func parseXML(data []byte) (*xmlNode, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var root *xmlNode
	var stack []*xmlNode
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to parse XML body")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{Space: t.Name.Space, Local: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				node.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			} else if root == nil {
				root = node
			} else {
				return nil, errors.New("XML document has multiple root elements")
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("XML document has no root element")
	}
	return root, nil
}

func (n *xmlNode) qualifiedName() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

type xmlCodec struct{}

func (xmlCodec) Name() string { return "xml" }

func (xmlCodec) Compare(expected, actual []byte, ctx *Context) []Mismatch {
	expectedRoot, err := parseXML(expected)
	if err != nil {
		return []Mismatch{{Kind: BodyMismatch, Path: "$", Expected: string(expected), Actual: string(actual), Description: err.Error()}}
	}
	actualRoot, err := parseXML(actual)
	if err != nil {
		return []Mismatch{{Kind: BodyMismatch, Path: "$", Expected: string(expected), Actual: string(actual), Description: err.Error()}}
	}
	w := &xmlWalker{ctx: ctx}
	w.compareElement(paths.RootPath().Child(expectedRoot.Local), expectedRoot, actualRoot)
	return w.mismatches
}

type xmlWalker struct {
	ctx        *Context
	mismatches []Mismatch
}

func (w *xmlWalker) add(path paths.Path, expected, actual, description string) {
	w.mismatches = append(w.mismatches, Mismatch{
		Kind:        BodyMismatch,
		Path:        path.String(),
		Expected:    expected,
		Actual:      actual,
		Description: description,
	})
}

// checkValue applies the rules at a path to a string value, falling back
// to equality.
func (w *xmlWalker) checkValue(path paths.Path, expected, actual string) {
	if list, ok := w.ctx.SelectRules(path); ok {
		for _, err := range ApplyRuleList(list, path, expected, actual, w.ctx) {
			w.add(path, expected, actual, err.Error())
		}
		return
	}
	if expected != actual {
		w.add(path, expected, actual, fmt.Sprintf("expected %q but received %q", expected, actual))
	}
}

func (w *xmlWalker) compareElement(path paths.Path, expected, actual *xmlNode) {
	// Namespaces are compared by URI, never by prefix.
	if expected.Space != actual.Space || expected.Local != actual.Local {
		w.add(path, expected.qualifiedName(), actual.qualifiedName(),
			fmt.Sprintf("expected element %s but received %s", expected.qualifiedName(), actual.qualifiedName()))
		return
	}

	w.compareAttributes(path, expected, actual)

	expectedText := strings.TrimSpace(expected.Text)
	actualText := strings.TrimSpace(actual.Text)
	if expectedText != "" || actualText != "" {
		textPath := path.Child("#text")
		if w.ctx.MatcherDefined(textPath) || expectedText != actualText {
			w.checkValue(textPath, expectedText, actualText)
		}
	}

	w.compareChildren(path, expected, actual)
}

func (w *xmlWalker) compareAttributes(path paths.Path, expected, actual *xmlNode) {
	names := make([]string, 0, len(expected.Attrs))
	for name := range expected.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attrPath := path.Child("@" + name)
		actualValue, present := actual.Attrs[name]
		if !present {
			w.add(attrPath, expected.Attrs[name], "",
				fmt.Sprintf("expected attribute %q but it was missing", name))
			continue
		}
		w.checkValue(attrPath, expected.Attrs[name], actualValue)
	}
	for name, value := range actual.Attrs {
		if _, present := expected.Attrs[name]; !present {
			w.add(path.Child("@"+name), "", value, fmt.Sprintf("unexpected attribute %q", name))
		}
	}
}

func groupChildren(node *xmlNode) (map[string][]*xmlNode, []string) {
	groups := map[string][]*xmlNode{}
	var order []string
	for _, child := range node.Children {
		key := child.qualifiedName()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], child)
	}
	return groups, order
}

func (w *xmlWalker) compareChildren(path paths.Path, expected, actual *xmlNode) {
	expectedGroups, order := groupChildren(expected)
	actualGroups, _ := groupChildren(actual)

	for _, name := range order {
		expectedList := expectedGroups[name]
		actualList := actualGroups[name]
		local := expectedList[0].Local
		childPath := path.Child(local)

		if len(actualList) == 0 {
			w.add(childPath, local, "", fmt.Sprintf("expected child element %q but it was missing", local))
			continue
		}

		if w.ctx.TypeMatcherActive(childPath) {
			template := expectedList[0]
			for i, item := range actualList {
				w.compareElement(childPath.Elem(i), template, item)
			}
			continue
		}

		if len(expectedList) != len(actualList) {
			w.add(childPath, fmt.Sprintf("%d <%s> elements", len(expectedList), local),
				fmt.Sprintf("%d <%s> elements", len(actualList), local),
				fmt.Sprintf("expected %d %q elements but received %d", len(expectedList), local, len(actualList)))
		}
		for i := range expectedList {
			if i >= len(actualList) {
				break
			}
			p := childPath
			if len(expectedList) > 1 {
				p = childPath.Elem(i)
			}
			w.compareElement(p, expectedList[i], actualList[i])
		}
	}

	for name, actualList := range actualGroups {
		if _, present := expectedGroups[name]; !present {
			w.add(path.Child(actualList[0].Local), "", actualList[0].Local,
				fmt.Sprintf("unexpected child element %q", actualList[0].Local))
		}
	}
}
