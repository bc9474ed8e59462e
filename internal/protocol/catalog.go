package protocol

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	pstrings "diligence/pkg/platform/strings"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is the read-only set of known protocols. It is built once at
// startup and safe for concurrent reads.
type Catalog struct {
	entries []Identity
	byID    map[string]int
}

type catalogFile struct {
	Protocols []Identity `yaml:"protocols"`
}

// LoadDefault parses the catalog compiled into the binary.
func LoadDefault() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile parses a catalog from path, replacing the built-in one.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog. Canonical ids must be unique and
// no normalized name may point at two different protocols.
func Load(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(file.Protocols)
}

// New validates entries and builds a Catalog. Entries are copied.
func New(entries []Identity) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no protocols", ErrInvalidCatalog)
	}

	c := &Catalog{
		entries: make([]Identity, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	owners := make(map[string]string)

	for _, e := range entries {
		e.CanonicalID = strings.ToLower(strings.TrimSpace(e.CanonicalID))
		if e.CanonicalID == "" {
			return nil, fmt.Errorf("%w: entry %q has no id", ErrInvalidCatalog, e.DisplayName)
		}
		if _, dup := c.byID[e.CanonicalID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, e.CanonicalID)
		}
		if e.DisplayName == "" {
			e.DisplayName = e.CanonicalID
		}
		e.Aliases = pstrings.DedupeAndTrim(e.Aliases)
		if e.Aliases == nil {
			e.Aliases = []string{}
		}
		e.Contracts = append([]Contract(nil), e.Contracts...)

		for _, name := range e.Names() {
			key := Compact(name)
			if key == "" {
				continue
			}
			if owner, taken := owners[key]; taken && owner != e.CanonicalID {
				return nil, fmt.Errorf("%w: name %q used by both %q and %q", ErrInvalidCatalog, name, owner, e.CanonicalID)
			}
			owners[key] = e.CanonicalID
		}

		c.byID[e.CanonicalID] = len(c.entries)
		c.entries = append(c.entries, e)
	}

	return c, nil
}

// Entries returns a copy of all identities sorted by canonical id.
func (c *Catalog) Entries() []Identity {
	out := make([]Identity, len(c.entries))
	copy(out, c.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out
}

// Lookup finds an identity by exact canonical id.
func (c *Catalog) Lookup(id string) (Identity, bool) {
	i, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Identity{}, false
	}
	return c.entries[i], true
}

func (c *Catalog) Len() int { return len(c.entries) }

// Compact case-folds s and strips everything that is not a letter or digit.
// "Rocket Pool" and "rocket-pool" both compact to "rocketpool".
func Compact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
