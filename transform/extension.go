// File: transform/extension.go
// Author: momentics <momentics@gmail.com>
//
// Sec-WebSocket-Extensions header values.

package transform

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// Parameter is one name[=value] element of an extension offer.
type Parameter struct {
	Name  string
	Value string
}

// Extension is one comma separated offer of the header.
type Extension struct {
	Name   string
	Params []Parameter
}

func (e Extension) String() string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	for _, p := range e.Params {
		sb.WriteString("; ")
		sb.WriteString(p.Name)
		if p.Value != "" {
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
	}
	return sb.String()
}

// ParseExtensions splits a Sec-WebSocket-Extensions value into offers.
func ParseExtensions(header string) ([]Extension, error) {
	var exts []Extension
	for _, offer := range strings.Split(header, ",") {
		offer = strings.TrimSpace(offer)
		if offer == "" {
			continue
		}
		elems := strings.Split(offer, ";")
		ext := Extension{Name: strings.TrimSpace(elems[0])}
		if ext.Name == "" {
			return nil, fmt.Errorf("extension offer %q has no name: %w", offer, errdefs.ErrInvalidArgument)
		}
		for _, elem := range elems[1:] {
			name, value, _ := strings.Cut(elem, "=")
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("extension %s has an empty parameter: %w", ext.Name, errdefs.ErrInvalidArgument)
			}
			value = strings.Trim(strings.TrimSpace(value), `"`)
			ext.Params = append(ext.Params, Parameter{Name: name, Value: value})
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

// FormatExtensions renders extensions as a header value.
func FormatExtensions(exts []Extension) string {
	parts := make([]string, len(exts))
	for i, e := range exts {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// Preferences returns the parameter sets of every offer named name, in
// offer order.
func Preferences(exts []Extension, name string) [][]Parameter {
	var prefs [][]Parameter
	for _, e := range exts {
		if strings.EqualFold(e.Name, name) {
			prefs = append(prefs, e.Params)
		}
	}
	return prefs
}
