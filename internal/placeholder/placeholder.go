// Package placeholder implements the template substitution used to inject
// trigger data into reaction options.
//
// Templates embed tokens of the form {name}. Substitution is a sequential
// single pass over the placeholder list: for each placeholder, the first
// occurrence of its token in the current string is replaced. A token that
// appears more than once is only replaced once per matching placeholder
// entry. Unknown tokens are left verbatim, there is no escaping, and values
// are never re-scanned for tokens.
package placeholder

import "strings"

// Placeholder is a single name/value substitution pair.
type Placeholder struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Apply replaces tokens in template using the given placeholders.
// An empty placeholder list returns the template unchanged.
func Apply(template string, placeholders []Placeholder) string {
	result := template
	for _, p := range placeholders {
		result = strings.Replace(result, "{"+p.Name+"}", p.Value, 1)
	}
	return result
}

// Names returns the placeholder names in order.
func Names(placeholders []Placeholder) []string {
	names := make([]string, 0, len(placeholders))
	for _, p := range placeholders {
		names = append(names, p.Name)
	}
	return names
}

// Lookup returns the value of the first placeholder with the given name.
func Lookup(placeholders []Placeholder, name string) (string, bool) {
	for _, p := range placeholders {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
