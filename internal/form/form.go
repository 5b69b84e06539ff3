// Package form renders the self-submitting SecureFrame launch document.
package form

import (
	"encoding/base64"
	"strings"

	"github.com/alovak/secureframe/internal/escape"
)

const (
	LiveURL = "https://payment.securepay.com.au/secureframe/invoice"
	TestURL = "https://test.payment.securepay.com.au/secureframe/invoice"
)

// Field is a named form value; undefined fields are not rendered.
type Field = escape.Field

// Fields keeps insertion order.
type Fields []Field

func (f *Fields) Set(name, value string) { *f = append(*f, escape.Set(name, value)) }

func (f *Fields) Optional(name, value string) { *f = append(*f, escape.Optional(name, value)) }

// Has reports whether a defined field with name exists.
func (f Fields) Has(name string) bool {
	for _, fl := range f {
		if fl.Name == name && fl.Defined {
			return true
		}
	}
	return false
}

// Get returns the value of the first defined field with name.
func (f Fields) Get(name string) (string, bool) {
	for _, fl := range f {
		if fl.Name == name && fl.Defined {
			return fl.Value, true
		}
	}
	return "", false
}

// ActionURL picks the submission endpoint: override, then live, then test.
func ActionURL(live bool, override string) string {
	if override != "" {
		return override
	}
	if live {
		return LiveURL
	}
	return TestURL
}

// Document is a rendered launch page.
type Document struct {
	Action string
	Fields Fields
	HTML   string
}

// DataURL encodes the whole document for loading into a frame.
func (d Document) DataURL() string {
	return "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(d.HTML))
}

// Render builds a document with one form posting every defined field to action.
func Render(action string, fields Fields) Document {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString(`<html><body onload="document.forms[0].submit()">`)
	b.WriteString("\n")
	b.WriteString(`<form action="` + escape.Attr(action) + `" method="post">`)
	b.WriteString("\n")
	for _, in := range escape.HiddenInputs(fields) {
		b.WriteString(in)
		b.WriteString("\n")
	}
	b.WriteString("</form>\n</body></html>\n")

	return Document{Action: action, Fields: fields, HTML: b.String()}
}
