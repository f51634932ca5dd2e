package domain

// FamilyKey identifies a coarse model family used for routing rules.
type FamilyKey string

const (
	FamilyClaude45 FamilyKey = "claude-4.5-series"
	FamilyClaude35 FamilyKey = "claude-3.5-series"
	FamilyGPT4     FamilyKey = "gpt-4-series"
	FamilyGPT4o    FamilyKey = "gpt-4o-series"
	FamilyGPT5     FamilyKey = "gpt-5-series"
)

// FamilyRule pairs a family key with the regex that recognizes it and
// the upstream model it routes to. Declared order matters: the first
// matching rule wins.
type FamilyRule struct {
	Family  FamilyKey
	Pattern string // regex matched against the client model id
	Target  string
}

// ModelMap holds the two routing tables the model router consults.
type ModelMap struct {
	// Exact maps a client model id directly to an upstream model id,
	// unconditionally overriding family rules.
	Exact map[string]string
	// Families is matched in order; the first regex match wins.
	Families []FamilyRule
}
