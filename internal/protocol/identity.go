// Package protocol holds the canonical protocol identities known to the
// service and the catalog they are loaded from.
package protocol

// Identity is the canonical description of a protocol plus the provider
// handles adapters need to look it up. Identities are immutable once the
// catalog is loaded; adapters receive them by value.
type Identity struct {
	CanonicalID string   `json:"canonical_id" yaml:"id"`
	DisplayName string   `json:"display_name" yaml:"name"`
	Category    string   `json:"category" yaml:"category"`
	Aliases     []string `json:"aliases" yaml:"aliases"`

	LlamaSlug     string     `json:"llama_slug,omitempty" yaml:"llama"`
	GitHub        GitHubRepo `json:"github,omitzero" yaml:"github"`
	SnapshotSpace string     `json:"snapshot_space,omitempty" yaml:"snapshot"`
	ImmunefiSlug  string     `json:"immunefi_slug,omitempty" yaml:"immunefi"`
	Contracts     []Contract `json:"contracts,omitempty" yaml:"contracts"`
}

// GitHubRepo is the protocol's primary source repository.
type GitHubRepo struct {
	Owner string `json:"owner" yaml:"owner"`
	Repo  string `json:"repo" yaml:"repo"`
}

func (g GitHubRepo) IsZero() bool {
	return g.Owner == "" || g.Repo == ""
}

func (g GitHubRepo) FullName() string {
	if g.IsZero() {
		return ""
	}
	return g.Owner + "/" + g.Repo
}

// Contract is a deployed contract worth screening on a block explorer.
type Contract struct {
	Chain   string `json:"chain" yaml:"chain"`
	Address string `json:"address" yaml:"address"`
	Label   string `json:"label,omitempty" yaml:"label"`
}

// Names returns every name the protocol is known by: canonical id, display
// name, then aliases.
func (i Identity) Names() []string {
	names := make([]string, 0, 2+len(i.Aliases))
	names = append(names, i.CanonicalID)
	if i.DisplayName != "" {
		names = append(names, i.DisplayName)
	}
	return append(names, i.Aliases...)
}
