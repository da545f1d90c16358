package similarity

import "github.com/poiesic/riskdedup/core"

// Asset is the public name of the category a risk is filed against.
type Asset struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Match is one ranked result as handed to callers.
type Match struct {
	ID            uint64   `json:"id"`
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	Threat        string   `json:"threat,omitempty"`
	Vulnerability string   `json:"vulnerability,omitempty"`
	Description   string   `json:"description,omitempty"`
	Asset         *Asset   `json:"asset,omitempty"`
	Score         int      `json:"score"`
	MatchedFields []string `json:"matchedFields"`
}

// ToMatches converts ranked candidates into their public form.
func ToMatches(candidates []*core.Candidate) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Record == nil {
			continue
		}
		r := c.Record
		m := Match{
			ID:            uint64(r.Id),
			Kind:          r.Kind.String(),
			Title:         r.Title,
			Threat:        r.Threat,
			Vulnerability: r.Vulnerability,
			Description:   r.Description,
			Score:         c.Score,
			MatchedFields: append([]string(nil), c.MatchedFields...),
		}
		if r.Device != nil {
			m.Asset = &Asset{ID: uint64(r.Device.Id), Name: r.Device.Name}
		}
		matches = append(matches, m)
	}
	return matches
}
