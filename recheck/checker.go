// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package recheck decides whether two risks really are duplicates when their
// vector score is inconclusive. Cheap textual fast paths run first; only
// when they do not apply is a chat model consulted, and its score is then
// adjusted for sparse or generic records.
package recheck

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/poiesic/riskdedup/ai"
	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/normalize"
)

// Methods reported in Result.Method.
const (
	MethodExact    = "exact"
	MethodOverlap  = "overlap"
	MethodSemantic = "semantic"
)

// Score constants for the textual fast paths and penalties.
const (
	ExactScore          = 100
	StrongOverlapScore  = 95
	PartialOverlapScore = 85
	TitleOnlyScore      = 70

	strongOverlap  = 0.8
	partialOverlap = 0.7

	IncompletePenalty = 15
	GenericPenalty    = 10
	GenericFloor      = 50
	genericAbove      = 70
	genericMaxWords   = 3
)

// DefaultGenericTerms are words that make a short title too vague to trust.
var DefaultGenericTerms = []string{"risk", "security", "threat", "vulnerability", "breach", "attack"}

// ErrRecheckerRequired is returned by NewChecker when no ai.Rechecker is given.
var ErrRecheckerRequired = errors.New("rechecker is required")

// Result is the verdict for one pair.
type Result struct {
	Score         int
	MatchedFields []string
	Reasoning     string
	Method        string
}

// Checker scores pairs of records.
type Checker struct {
	rechecker    ai.Rechecker
	breaker      *gobreaker.CircuitBreaker
	genericTerms map[string]bool
	logger       *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker) error

// WithGenericTerms replaces DefaultGenericTerms.
func WithGenericTerms(terms ...string) Option {
	return func(c *Checker) error {
		c.genericTerms = termSet(terms)
		return nil
	}
}

// WithBreakerSettings replaces the default circuit breaker around model calls.
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(c *Checker) error {
		c.breaker = gobreaker.NewCircuitBreaker(settings)
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// NewChecker creates a Checker around a model-backed re-checker.
func NewChecker(rechecker ai.Rechecker, opts ...Option) (*Checker, error) {
	if rechecker == nil {
		return nil, ErrRecheckerRequired
	}
	c := &Checker{
		rechecker:    rechecker,
		genericTerms: termSet(DefaultGenericTerms),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "recheck")
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker(defaultBreakerSettings(c.logger))
	}
	return c, nil
}

func defaultBreakerSettings(logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "semantic-recheck",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
}

// Recheck scores the pair (a, b). Errors come only from the model path and
// leave the caller to decide what score to keep.
func (c *Checker) Recheck(ctx context.Context, a, b *core.Record) (*Result, error) {
	if result := c.textualMatch(a, b); result != nil {
		return result, nil
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.rechecker.Compare(ctx, subject(a), subject(b))
	})
	if err != nil {
		c.logger.Warn("semantic re-check failed", "a", a.Id, "b", b.Id, "err", err)
		return nil, err
	}
	assessment := v.(*ai.Assessment)

	score := c.applyPenalties(assessment.Score, a, b)
	c.logger.Debug("semantic re-check", "a", a.Id, "b", b.Id, "model_score", assessment.Score, "score", score)
	return &Result{
		Score:         score,
		MatchedFields: knownFields(assessment.MatchedFields),
		Reasoning:     assessment.Reasoning,
		Method:        MethodSemantic,
	}, nil
}

// textualMatch handles the cases that need no model call. It returns nil
// when neither applies.
func (c *Checker) textualMatch(a, b *core.Record) *Result {
	titleA, titleB := normalize.Key(a.Title), normalize.Key(b.Title)
	threatA, threatB := normalize.Key(a.Threat), normalize.Key(b.Threat)
	descA, descB := normalize.Key(a.Description), normalize.Key(b.Description)

	if titleA == titleB && threatA == threatB && descA == descB && (titleA != "" || threatA != "" || descA != "") {
		return &Result{
			Score:         ExactScore,
			MatchedFields: []string{core.FieldTitle, core.FieldThreat, core.FieldDescription},
			Method:        MethodExact,
		}
	}

	if titleA == "" || titleA != titleB {
		return nil
	}

	threatOverlap := Jaccard(threatA, threatB)
	descOverlap := Jaccard(descA, descB)
	score := TitleOnlyScore
	switch {
	case threatOverlap > strongOverlap && descOverlap > strongOverlap:
		score = StrongOverlapScore
	case threatOverlap > partialOverlap || descOverlap > partialOverlap:
		score = PartialOverlapScore
	}
	return &Result{
		Score:         score,
		MatchedFields: []string{core.FieldTitle},
		Method:        MethodOverlap,
	}
}

// applyPenalties lowers a model score for records lacking detail and for
// short generic titles.
func (c *Checker) applyPenalties(score int, a, b *core.Record) int {
	if lacksDetail(a) || lacksDetail(b) {
		score = max(score-IncompletePenalty, 0)
	}
	if score > genericAbove && (c.isGeneric(a.Title) || c.isGeneric(b.Title)) {
		score = max(score-GenericPenalty, GenericFloor)
	}
	return score
}

func lacksDetail(r *core.Record) bool {
	return normalize.Key(r.Threat) == "" && normalize.Key(r.Description) == ""
}

// isGeneric reports whether title has at most three words and one of them
// is a generic security term (plural forms included).
func (c *Checker) isGeneric(title string) bool {
	words := Words(title)
	if len(words) == 0 || len(words) > genericMaxWords {
		return false
	}
	for _, w := range words {
		if c.genericTerms[w] || c.genericTerms[singular(w)] {
			return true
		}
	}
	return false
}

func subject(r *core.Record) ai.Subject {
	return ai.Subject{Title: r.Title, Threat: r.Threat, Description: r.Description}
}

func knownFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch k := normalize.Key(f); k {
		case core.FieldTitle, core.FieldThreat, core.FieldDescription:
			out = append(out, k)
		}
	}
	return out
}

func termSet(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[normalize.Key(t)] = true
	}
	return set
}
