package core

import (
	"fmt"
	"strings"
	"time"
)

// ID is a unique identifier for stored records. IDs come from a
// monotonically increasing database sequence, so a larger ID was assigned
// later; the backfill cursor depends on that ordering.
type ID uint64

// RecordKind identifies which register a record belongs to.
type RecordKind int

const (
	// RecordKindRisk is an entry in the risk register.
	RecordKindRisk RecordKind = iota + 1
	// RecordKindControl is an entry in the control catalog.
	RecordKindControl
)

func (k RecordKind) String() string {
	switch k {
	case RecordKindRisk:
		return "risk"
	case RecordKindControl:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseRecordKind converts a kind name ("risk", "control") into a RecordKind.
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "risk", "risks":
		return RecordKindRisk, nil
	case "control", "controls":
		return RecordKindControl, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecordKind, s)
	}
}

// Field names reported in Candidate.MatchedFields.
const (
	FieldTitle         = "title"
	FieldThreat        = "threat"
	FieldVulnerability = "vulnerability"
	FieldDescription   = "description"
	FieldObjective     = "objective"
	FieldGuidance      = "guidance"
)

// Category is the asset a risk is filed against. Storage knows it as the
// record's device; the public result shape calls it the asset.
type Category struct {
	Id   ID
	Name string
}

// Record is a stored risk or control entry. Vector stays nil until an
// embedding has been computed and persisted.
type Record struct {
	Id            ID
	Kind          RecordKind
	Title         string
	Threat        string
	Vulnerability string
	Description   string
	Objective     string // controls only
	Guidance      string // controls only
	Device        *Category
	Vector        []float32
	InsertedAt    time.Time
	UpdatedAt     time.Time
}

// HasVector reports whether the record carries a usable embedding.
func (r *Record) HasVector() bool {
	return r != nil && len(r.Vector) > 0
}

// Candidate is an existing record paired with its similarity score against
// some target. Score is an integer in [0,100].
type Candidate struct {
	Record        *Record
	Score         int
	MatchedFields []string
}
