// Package examples serves the built-in example Kappa models
package examples

import (
	"embed"
	"errors"
	"fmt"
	"strings"
)

// URIPrefix is the scheme and path shared by every example resource
const URIPrefix = "kappa://examples/"

// MimeType of every example resource
const MimeType = "text/plain"

// ErrNotFound is returned for unknown example names or URIs
var ErrNotFound = errors.New("example not found")

//go:embed models/*.ka
var modelFS embed.FS

// Resource is a read-only model source addressed by URI
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
	Text        string `json:"text,omitempty"`
}

var catalog = []Resource{
	{
		Name:        "simple",
		Description: "Reversible binding of A and B, observing the AB complex",
	},
	{
		Name:        "polymerization",
		Description: "Linear polymerization of M monomers, observing monomers and chains",
	},
}

// List returns the example resources in a stable order, without their text
func List() []Resource {
	out := make([]Resource, len(catalog))
	for i, r := range catalog {
		r.URI = URIPrefix + r.Name
		r.MimeType = MimeType
		out[i] = r
	}
	return out
}

// Get returns the named example with its model text
func Get(name string) (Resource, error) {
	for _, r := range List() {
		if r.Name != name {
			continue
		}
		data, err := modelFS.ReadFile("models/" + name + ".ka")
		if err != nil {
			return Resource{}, fmt.Errorf("failed to read example %s: %w", name, err)
		}
		r.Text = strings.TrimSpace(string(data))
		return r, nil
	}
	return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Read resolves a kappa://examples/<name> URI
func Read(uri string) (Resource, error) {
	name, ok := strings.CutPrefix(uri, URIPrefix)
	if !ok || name == "" {
		return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return Get(name)
}
