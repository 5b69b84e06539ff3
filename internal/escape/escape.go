package escape

import (
	"strings"
)

var (
	attrReplacer = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	unescapeReplacer = strings.NewReplacer(
		"&quot;", `"`,
		"&gt;", ">",
		"&lt;", "<",
		"&amp;", "&",
	)
)

// Field is a single form field. Fields that are not Defined are dropped when rendered.
type Field struct {
	Name    string
	Value   string
	Defined bool
}

// Set returns a defined field, even when value is empty.
func Set(name, value string) Field {
	return Field{Name: name, Value: value, Defined: true}
}

// Optional returns a field that is only defined when value is not empty.
// Go options have no undefined state, so an empty string stands for an unset
// option and renders no input. Use Set to send an explicitly empty field.
func Optional(name, value string) Field {
	return Field{Name: name, Value: value, Defined: value != ""}
}

// Attr escapes s for use inside a double quoted HTML attribute.
func Attr(s string) string {
	return attrReplacer.Replace(s)
}

// Unescape reverses Attr.
func Unescape(s string) string {
	return unescapeReplacer.Replace(s)
}

// HiddenInput renders one hidden input with an escaped name and value.
func HiddenInput(name, value string) string {
	return `<input type="hidden" name="` + Attr(name) + `" value="` + Attr(value) + `" />`
}

// HiddenInputs renders every defined field in order.
func HiddenInputs(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.Defined {
			continue
		}
		out = append(out, HiddenInput(f.Name, f.Value))
	}
	return out
}
