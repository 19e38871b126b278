package retrieval

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"media-pipeline/domain/job"
)

const confirmFormID = "download-form"

// Hidden fields the download form must carry, and optional ones forwarded when present
var (
	requiredConfirmFields = []string{"id", "export", "confirm"}
	optionalConfirmFields = []string{"uuid", "at"}
)

// ConfirmForm is the virus-scan warning form served in place of large files
type ConfirmForm struct {
	Action string
	Fields map[string]string
}

// ParseConfirmForm extracts the download form from a confirmation page.
// A missing form, action or required hidden field yields a *job.ParseError.
func ParseConfirmForm(r io.Reader) (*ConfirmForm, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse confirmation page: %w", err)
	}

	node := findForm(doc)
	if node == nil {
		return nil, &job.ParseError{Field: confirmFormID}
	}

	form := &ConfirmForm{
		Action: strings.TrimSpace(attr(node, "action")),
		Fields: make(map[string]string),
	}
	if form.Action == "" {
		return nil, &job.ParseError{Field: "action"}
	}
	collectHiddenInputs(node, form.Fields)

	for _, name := range requiredConfirmFields {
		if form.Fields[name] == "" {
			return nil, &job.ParseError{Field: name}
		}
	}
	return form, nil
}

// URL rebuilds the download request the form would submit.
// A relative action is resolved against base.
func (f *ConfirmForm) URL(base *url.URL) (string, error) {
	action, err := url.Parse(f.Action)
	if err != nil {
		return "", &job.ParseError{Field: "action"}
	}
	if base != nil {
		action = base.ResolveReference(action)
	}

	q := action.Query()
	for _, name := range requiredConfirmFields {
		q.Set(name, f.Fields[name])
	}
	for _, name := range optionalConfirmFields {
		if v := f.Fields[name]; v != "" {
			q.Set(name, v)
		}
	}
	action.RawQuery = q.Encode()
	return action.String(), nil
}

func findForm(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "form" && attr(n, "id") == confirmFormID {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findForm(c); found != nil {
			return found
		}
	}
	return nil
}

func collectHiddenInputs(n *html.Node, fields map[string]string) {
	if n.Type == html.ElementNode && n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
		if name := attr(n, "name"); name != "" {
			fields[name] = attr(n, "value")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectHiddenInputs(c, fields)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
