package sources

import "time"

// SectionData is implemented by the one record type each section carries.
// Slices in every record are non-nil so encoded reports never contain null
// collections. Day counters use -1 for "unknown".
type SectionData interface {
	Section() Section
}

// EmptyData returns the declared empty record for a section.
func EmptyData(s Section) SectionData {
	switch s {
	case SectionOnchain:
		return EmptyOnchain()
	case SectionAudits:
		return EmptyAudits()
	case SectionBounty:
		return EmptyBounty()
	case SectionGovernance:
		return EmptyGovernance()
	case SectionDevelopment:
		return EmptyDevelopment()
	default:
		return EmptyRedFlags()
	}
}

// On-chain

type OnchainData struct {
	Name           string         `json:"name"`
	Category       string         `json:"category"`
	Description    string         `json:"description"`
	URL            string         `json:"url"`
	CurrentTVL     float64        `json:"current_tvl"`
	TVLHistory     []TVLPoint     `json:"tvl_history"`
	TVLChangePct   float64        `json:"tvl_change_pct"`
	Chains         []ChainTVL     `json:"chains"`
	FundingRounds  []FundingRound `json:"funding_rounds"`
	TotalFunding   float64        `json:"total_funding"`
	Hacks          HackSummary    `json:"hacks"`
	Hallmarks      []Hallmark     `json:"hallmarks"`
	ChildProtocols []string       `json:"child_protocols"`
}

type TVLPoint struct {
	Date time.Time `json:"date"`
	TVL  float64   `json:"tvl"`
}

type ChainTVL struct {
	Chain string  `json:"chain"`
	TVL   float64 `json:"tvl"`
	// Share of total current TVL in [0,1].
	Share float64 `json:"share"`
}

type FundingRound struct {
	Date          time.Time `json:"date"`
	Round         string    `json:"round"`
	Amount        float64   `json:"amount"`
	LeadInvestors []string  `json:"lead_investors"`
}

type Hallmark struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// HackSummary is shared by the on-chain and red-flag sections. Checked is
// false when hack history could not be retrieved.
type HackSummary struct {
	Checked         bool    `json:"checked"`
	Incidents       []Hack  `json:"incidents"`
	TotalIncidents  int     `json:"total_incidents"`
	TotalLost       float64 `json:"total_lost"`
	TotalReturned   float64 `json:"total_returned"`
	DaysSinceLatest int     `json:"days_since_latest"`
}

type Hack struct {
	Date           time.Time `json:"date"`
	Name           string    `json:"name"`
	Classification string    `json:"classification"`
	Technique      string    `json:"technique"`
	Amount         float64   `json:"amount"`
	Returned       float64   `json:"returned"`
	Chains         []string  `json:"chains"`
}

func (OnchainData) Section() Section { return SectionOnchain }

func EmptyHackSummary() HackSummary {
	return HackSummary{Incidents: []Hack{}, DaysSinceLatest: -1}
}

func EmptyOnchain() OnchainData {
	return OnchainData{
		TVLHistory:     []TVLPoint{},
		Chains:         []ChainTVL{},
		FundingRounds:  []FundingRound{},
		Hacks:          EmptyHackSummary(),
		Hallmarks:      []Hallmark{},
		ChildProtocols: []string{},
	}
}

// Audits

type AuditData struct {
	Reports []AuditReport `json:"reports"`
	Firms   []string      `json:"firms"`
	// TotalFound is what the provider reported, which can exceed len(Reports)
	// when pagination was cut short.
	TotalFound int `json:"total_found"`
}

type AuditReport struct {
	Firm        string    `json:"firm"`
	Repository  string    `json:"repository"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

func (AuditData) Section() Section { return SectionAudits }

func EmptyAudits() AuditData {
	return AuditData{Reports: []AuditReport{}, Firms: []string{}}
}

// Bounty

type BountyData struct {
	HasProgram bool            `json:"has_program"`
	Programs   []BountyProgram `json:"programs"`
	MaxBounty  float64         `json:"max_bounty"`
}

type BountyProgram struct {
	Project    string    `json:"project"`
	URL        string    `json:"url"`
	MaxBounty  float64   `json:"max_bounty"`
	LaunchedAt time.Time `json:"launched_at,omitzero"`
	KYC        bool      `json:"kyc"`
}

func (BountyData) Section() Section { return SectionBounty }

func EmptyBounty() BountyData {
	return BountyData{Programs: []BountyProgram{}}
}

// Governance

type GovernanceData struct {
	Space                 string     `json:"space"`
	SpaceName             string     `json:"space_name"`
	Followers             int        `json:"followers"`
	ProposalCount         int        `json:"proposal_count"`
	ActiveCount           int        `json:"active_count"`
	AverageVotes          float64    `json:"average_votes"`
	Participation         float64    `json:"participation"`
	ProposalsPer30Days    float64    `json:"proposals_per_30_days"`
	DaysSinceLastProposal int        `json:"days_since_last_proposal"`
	Proposals             []Proposal `json:"proposals"`
}

type Proposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	Created     time.Time `json:"created"`
	End         time.Time `json:"end"`
	Votes       int       `json:"votes"`
	ScoresTotal float64   `json:"scores_total"`
}

func (GovernanceData) Section() Section { return SectionGovernance }

func EmptyGovernance() GovernanceData {
	return GovernanceData{Proposals: []Proposal{}, DaysSinceLastProposal: -1}
}

// Development

type DevelopmentData struct {
	Repository           string    `json:"repository"`
	Language             string    `json:"language"`
	Stars                int       `json:"stars"`
	Forks                int       `json:"forks"`
	OpenIssues           int       `json:"open_issues"`
	Archived             bool      `json:"archived"`
	LastPush             time.Time `json:"last_push,omitzero"`
	DaysSinceLastCommit  int       `json:"days_since_last_commit"`
	CommitsInWindow      int       `json:"commits_in_window"`
	Contributors         int       `json:"contributors"`
	ClosedIssuesInWindow int       `json:"closed_issues_in_window"`
}

func (DevelopmentData) Section() Section { return SectionDevelopment }

// EmptyDevelopment marks every activity count unknown (-1) until the call
// that measures it succeeds.
func EmptyDevelopment() DevelopmentData {
	return DevelopmentData{
		DaysSinceLastCommit:  -1,
		CommitsInWindow:      -1,
		Contributors:         -1,
		ClosedIssuesInWindow: -1,
	}
}

// Red flags

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank as none.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

type RedFlagData struct {
	RiskLevel Severity        `json:"risk_level"`
	Flags     []RedFlag       `json:"flags"`
	Contracts []ContractCheck `json:"contracts"`
	Hacks     HackSummary     `json:"hacks"`
}

type RedFlag struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

type ContractCheck struct {
	Chain          string `json:"chain"`
	Address        string `json:"address"`
	Label          string `json:"label"`
	Checked        bool   `json:"checked"`
	Verified       bool   `json:"verified"`
	ContractName   string `json:"contract_name"`
	Proxy          bool   `json:"proxy"`
	Implementation string `json:"implementation,omitempty"`
}

func (RedFlagData) Section() Section { return SectionRedFlags }

func EmptyRedFlags() RedFlagData {
	return RedFlagData{
		RiskLevel: SeverityNone,
		Flags:     []RedFlag{},
		Contracts: []ContractCheck{},
		Hacks:     EmptyHackSummary(),
	}
}
