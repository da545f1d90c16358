package ai

// Subject is the part of a risk a semantic comparison looks at.
type Subject struct {
	Title       string
	Threat      string
	Description string
}

// Assessment is a parsed semantic comparison. Score is clamped to [0,100].
type Assessment struct {
	Score         int
	MatchedFields []string
	Reasoning     string
}
