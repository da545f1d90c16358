package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/riskdedup/ai"
	"github.com/poiesic/riskdedup/ai/mock"
	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/embedding"
	"github.com/poiesic/riskdedup/recheck"
	"github.com/poiesic/riskdedup/storage"
	"github.com/poiesic/riskdedup/storage/badger"
)

// vectorAt returns a 2-d vector whose cosine with (1, 0) is score/100.
func vectorAt(score int) []float32 {
	s := float64(score) / 100
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

type fakeRechecker struct {
	mu    sync.Mutex
	calls int
	fn    func(a, b *core.Record) (*recheck.Result, error)
}

func (f *fakeRechecker) Recheck(_ context.Context, a, b *core.Record) (*recheck.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(a, b)
}

func (f *fakeRechecker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func recheckTo(score int) *fakeRechecker {
	return &fakeRechecker{fn: func(_, _ *core.Record) (*recheck.Result, error) {
		return &recheck.Result{Score: score, Method: recheck.MethodSemantic}, nil
	}}
}

type recordingMonitor struct {
	noopMonitor
	capReached int
	rechecks   map[string]int
	finished   []string
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{rechecks: map[string]int{}}
}

func (m *recordingMonitor) Rechecked(outcome string)    { m.rechecks[outcome]++ }
func (m *recordingMonitor) RecheckCapReached()          { m.capReached++ }
func (m *recordingMonitor) Finish(op string, _ []Match) { m.finished = append(m.finished, op) }

// countingRepository counts read queries made against the wrapped repository.
type countingRepository struct {
	storage.RecordRepository
	lists int
	gets  int
}

func (c *countingRepository) ListRecords(ctx context.Context, kind core.RecordKind, excludeID core.ID) ([]*core.Record, error) {
	c.lists++
	return c.RecordRepository.ListRecords(ctx, kind, excludeID)
}

func (c *countingRepository) GetRecord(ctx context.Context, id core.ID) (*core.Record, error) {
	c.gets++
	return c.RecordRepository.GetRecord(ctx, id)
}

type failingRepository struct {
	storage.RecordRepository
	panics bool
}

func (f *failingRepository) ListRecords(context.Context, core.RecordKind, core.ID) ([]*core.Record, error) {
	if f.panics {
		panic("storage exploded")
	}
	return nil, errors.New("connection reset")
}

func (f *failingRepository) GetRecord(context.Context, core.ID) (*core.Record, error) {
	if f.panics {
		panic("storage exploded")
	}
	return nil, errors.New("connection reset")
}

type fixture struct {
	repo     *badger.RecordRepository
	embedder *mock.MockEmbedder
	client   *embedding.Client
}

func newFixture(t *testing.T, dimensions int) *fixture {
	t.Helper()
	repo, backend, err := badger.NewMemoryRepository(dimensions)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})

	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	client, err := embedding.NewClient(embedder)
	require.NoError(t, err)

	return &fixture{repo: repo, embedder: embedder, client: client}
}

func (fx *fixture) finder(t *testing.T, opts ...Option) *Finder {
	t.Helper()
	f, err := NewFinder(fx.repo, fx.client, opts...)
	require.NoError(t, err)
	return f
}

func (fx *fixture) add(t *testing.T, records ...*core.Record) []*core.Record {
	t.Helper()
	for _, r := range records {
		if r.Kind == 0 {
			r.Kind = core.RecordKindRisk
		}
	}
	added, err := fx.repo.AddRecords(context.Background(), records...)
	require.NoError(t, err)
	return added
}

func (fx *fixture) addScored(t *testing.T, n, score int) []*core.Record {
	t.Helper()
	records := make([]*core.Record, n)
	for i := range records {
		records[i] = &core.Record{
			Title:  fmt.Sprintf("Candidate %d at %d", i, score),
			Threat: "someone",
			Vector: vectorAt(score),
		}
	}
	return fx.add(t, records...)
}

func scores(matches []Match) []int {
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Score
	}
	return out
}

func newInput() *core.Record {
	return &core.Record{
		Kind:        core.RecordKindRisk,
		Title:       "Ransomware encrypts file shares",
		Threat:      "criminal group",
		Description: "payload spreads over SMB",
	}
}

func TestNewFinder_Validation(t *testing.T) {
	fx := newFixture(t, 2)

	_, err := NewFinder(nil, fx.client)
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	_, err = NewFinder(fx.repo, nil)
	assert.ErrorIs(t, err, ErrEmbeddingClientRequired)

	_, err = NewFinder(fx.repo, fx.client, WithBorderlineBand(90, 80))
	assert.ErrorIs(t, err, ErrInvalidBand)

	_, err = NewFinder(fx.repo, fx.client, WithSimilarityThreshold(101))
	assert.ErrorIs(t, err, ErrInvalidScore)

	_, err = NewFinder(fx.repo, fx.client, WithRecheckCap(-1))
	assert.Error(t, err)

	_, err = NewFinder(fx.repo, fx.client, WithDefaultLimit(0))
	assert.Error(t, err)
}

func TestFindSimilarForExisting_ComputesAndPersistsTargetVector(t *testing.T) {
	fx := newFixture(t, 2)
	ctx := context.Background()

	target := fx.add(t, &core.Record{Title: "Phishing of finance staff", Threat: "criminals"})[0]
	fx.add(t,
		&core.Record{Title: "Close", Vector: vectorAt(90)},
		&core.Record{Title: "Near", Vector: vectorAt(72)},
		&core.Record{Title: "Far", Vector: vectorAt(50)},
		&core.Record{Title: "Unembedded"},
	)
	finder := fx.finder(t)

	matches := finder.FindSimilarForExisting(ctx, target.Id, 0)
	assert.Equal(t, []int{90, 72}, scores(matches))
	assert.Equal(t, "Close", matches[0].Title)
	assert.Equal(t, []string{core.FieldTitle}, matches[0].MatchedFields)
	assert.Equal(t, 1, fx.embedder.CallCount())

	stored, err := fx.repo.GetRecord(ctx, target.Id)
	require.NoError(t, err)
	assert.True(t, stored.HasVector())

	// The stored vector is reused on the next lookup.
	matches = finder.FindSimilarForExisting(ctx, target.Id, 0)
	assert.Len(t, matches, 2)
	assert.Equal(t, 1, fx.embedder.CallCount())
}

func TestFindSimilarForExisting_ExcludesTargetAndOtherKinds(t *testing.T) {
	fx := newFixture(t, 2)

	target := fx.add(t, &core.Record{Title: "Target", Vector: vectorAt(100)})[0]
	fx.add(t, &core.Record{Kind: core.RecordKindControl, Title: "Control", Vector: vectorAt(100)})
	fx.add(t, &core.Record{Title: "Twin", Vector: vectorAt(100)})

	matches := fx.finder(t).FindSimilarForExisting(context.Background(), target.Id, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "Twin", matches[0].Title)
	assert.Equal(t, 100, matches[0].Score)
}

func TestFindSimilarForExisting_NotFound(t *testing.T) {
	fx := newFixture(t, 2)

	matches := fx.finder(t).FindSimilarForExisting(context.Background(), 999, 10)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestFindSimilarForExisting_NoCandidates(t *testing.T) {
	fx := newFixture(t, 2)
	target := fx.add(t, &core.Record{Title: "Alone", Vector: vectorAt(100)})[0]

	assert.Empty(t, fx.finder(t).FindSimilarForExisting(context.Background(), target.Id, 10))
}

func TestFindSimilarForExisting_EmbeddingUnavailable(t *testing.T) {
	fx := newFixture(t, 2)
	fx.embedder.WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("service down")
	})
	target := fx.add(t, &core.Record{Title: "Target"})[0]
	fx.addScored(t, 3, 90)

	assert.Empty(t, fx.finder(t).FindSimilarForExisting(context.Background(), target.Id, 10))

	stored, err := fx.repo.GetRecord(context.Background(), target.Id)
	require.NoError(t, err)
	assert.False(t, stored.HasVector())
}

func TestFindSimilarForExisting_LimitAndDefaultLimit(t *testing.T) {
	fx := newFixture(t, 2)
	target := fx.add(t, &core.Record{Title: "Target", Vector: vectorAt(100)})[0]
	fx.addScored(t, 15, 80)
	finder := fx.finder(t)

	assert.Len(t, finder.FindSimilarForExisting(context.Background(), target.Id, 0), DefaultLimit)
	assert.Len(t, finder.FindSimilarForExisting(context.Background(), target.Id, 3), 3)
	assert.Len(t, finder.FindSimilarForExisting(context.Background(), target.Id, 50), 15)
}

func TestFindSimilarForExisting_MapsDeviceToAsset(t *testing.T) {
	fx := newFixture(t, 2)
	target := fx.add(t, &core.Record{Title: "Target", Vector: vectorAt(100)})[0]
	fx.add(t, &core.Record{
		Title:  "Laptop theft",
		Device: &core.Category{Id: 7, Name: "Laptops"},
		Vector: vectorAt(95),
	})

	matches := fx.finder(t).FindSimilarForExisting(context.Background(), target.Id, 10)
	require.Len(t, matches, 1)
	require.NotNil(t, matches[0].Asset)
	assert.Equal(t, Asset{ID: 7, Name: "Laptops"}, *matches[0].Asset)
	assert.Equal(t, "risk", matches[0].Kind)
}

func TestRankExisting_DimensionMismatch(t *testing.T) {
	fx := newFixture(t, 0)
	target := fx.add(t, &core.Record{Title: "Target", Vector: []float32{1, 0}})[0]
	fx.add(t, &core.Record{Title: "Legacy", Vector: []float32{1, 0, 0}})
	finder := fx.finder(t)

	_, err := finder.RankExisting(context.Background(), target.Id, 10)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	assert.Empty(t, finder.FindSimilarForExisting(context.Background(), target.Id, 10))
}

func TestFindSimilarForNew_ShortTitleSkipsStorage(t *testing.T) {
	fx := newFixture(t, 2)
	fx.addScored(t, 3, 90)
	repo := &countingRepository{RecordRepository: fx.repo}
	finder, err := NewFinder(repo, fx.client)
	require.NoError(t, err)

	for _, title := range []string{"", "ab", "   ab   ", "é!"} {
		matches := finder.FindSimilarForNew(context.Background(), &core.Record{Title: title}, 10, 0)
		assert.NotNil(t, matches)
		assert.Empty(t, matches, "title %q", title)
	}
	assert.Empty(t, finder.FindSimilarForNew(context.Background(), nil, 10, 0))

	assert.Zero(t, repo.lists)
	assert.Zero(t, repo.gets)
	assert.Zero(t, fx.embedder.CallCount())
}

func TestFindSimilarForNew_ExactTitleMatch(t *testing.T) {
	fx := newFixture(t, 2)
	added := fx.add(t,
		&core.Record{Title: "Data Leak"},
		&core.Record{Title: "Something else", Vector: vectorAt(75)},
		&core.Record{Title: "  data leak ", Vector: vectorAt(20)},
	)
	rc := recheckTo(10)
	finder := fx.finder(t, WithRechecker(rc))

	matches := finder.FindSimilarForNew(context.Background(), &core.Record{Title: "DATA LEAK"}, 10, 0)
	require.Len(t, matches, 2)
	assert.Equal(t, uint64(added[0].Id), matches[0].ID)
	assert.Equal(t, uint64(added[2].Id), matches[1].ID)
	for _, m := range matches {
		assert.Equal(t, DefaultExactMatchScore, m.Score)
		assert.Equal(t, []string{core.FieldTitle}, m.MatchedFields)
	}
	assert.Zero(t, fx.embedder.CallCount())
	assert.Zero(t, rc.Calls())
}

func TestFindSimilarForNew_ExactMatchHonoursLimitAndExclude(t *testing.T) {
	fx := newFixture(t, 2)
	added := fx.add(t,
		&core.Record{Title: "Data Leak"},
		&core.Record{Title: "Data Leak"},
		&core.Record{Title: "Data Leak"},
	)
	finder := fx.finder(t, WithExactMatchScore(99))

	matches := finder.FindSimilarForNew(context.Background(), &core.Record{Title: "data leak"}, 1, added[0].Id)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(added[1].Id), matches[0].ID)
	assert.Equal(t, 99, matches[0].Score)
}

func TestFindSimilarForNew_VectorScoring(t *testing.T) {
	fx := newFixture(t, 2)
	fx.add(t,
		&core.Record{Title: "A", Vector: vectorAt(92)},
		&core.Record{Title: "B", Vector: vectorAt(69)},
		&core.Record{Title: "C", Vector: vectorAt(88)},
		&core.Record{Title: "D"},
	)
	rc := recheckTo(10)
	finder := fx.finder(t, WithRechecker(rc))

	matches := finder.FindSimilarForNew(context.Background(), newInput(), 10, 0)
	assert.Equal(t, []int{92, 88}, scores(matches))
	assert.Zero(t, rc.Calls())
	assert.Equal(t, 1, fx.embedder.CallCount())
}

func TestFindSimilarForNew_RecheckCap(t *testing.T) {
	fx := newFixture(t, 2)
	fx.addScored(t, 15, 75)
	rc := recheckTo(90)
	monitor := newRecordingMonitor()
	finder := fx.finder(t, WithRechecker(rc), WithMonitor(monitor))

	matches := finder.FindSimilarForNew(context.Background(), newInput(), 20, 0)
	require.Len(t, matches, 15)
	assert.Equal(t, DefaultRecheckCap, rc.Calls())

	rechecked, kept := 0, 0
	for _, m := range matches {
		switch m.Score {
		case 90:
			rechecked++
		case 75:
			kept++
		}
	}
	assert.Equal(t, 10, rechecked)
	assert.Equal(t, 5, kept)
	assert.Equal(t, 1, monitor.capReached)
	assert.Equal(t, 10, monitor.rechecks[RecheckOK])
	assert.Equal(t, []string{opNew}, monitor.finished)
}

func TestFindSimilarForNew_RecheckBand(t *testing.T) {
	fx := newFixture(t, 2)
	fx.add(t,
		&core.Record{Title: "High", Vector: vectorAt(86)},
		&core.Record{Title: "Upper edge", Vector: vectorAt(85)},
		&core.Record{Title: "Middle", Vector: vectorAt(75)},
		&core.Record{Title: "Lower", Vector: vectorAt(70)},
	)
	rc := recheckTo(99)
	finder := fx.finder(t, WithRechecker(rc))

	matches := finder.FindSimilarForNew(context.Background(), newInput(), 10, 0)
	assert.Equal(t, 3, rc.Calls())
	assert.Equal(t, []int{99, 99, 99, 86}, scores(matches))
	assert.Equal(t, "High", matches[3].Title)
}

func TestFindSimilarForNew_RecheckFailureKeepsScore(t *testing.T) {
	fx := newFixture(t, 2)
	fx.addScored(t, 3, 80)
	rc := &fakeRechecker{fn: func(_, _ *core.Record) (*recheck.Result, error) {
		return nil, errors.New("chat endpoint unreachable")
	}}
	monitor := newRecordingMonitor()
	finder := fx.finder(t, WithRechecker(rc), WithMonitor(monitor))

	matches := finder.FindSimilarForNew(context.Background(), newInput(), 10, 0)
	assert.Equal(t, []int{80, 80, 80}, scores(matches))
	assert.Equal(t, 3, monitor.rechecks[RecheckFailed])
}

func TestFindSimilarForNew_RecheckResortsAndKeepsLowScores(t *testing.T) {
	fx := newFixture(t, 2)
	fx.add(t,
		&core.Record{Title: "Strong", Vector: vectorAt(95)},
		&core.Record{Title: "Demoted", Vector: vectorAt(84)},
		&core.Record{Title: "Promoted", Vector: vectorAt(71)},
	)
	rc := &fakeRechecker{fn: func(_, b *core.Record) (*recheck.Result, error) {
		if b.Title == "Promoted" {
			return &recheck.Result{Score: 100}, nil
		}
		return &recheck.Result{Score: 20}, nil
	}}
	finder := fx.finder(t, WithRechecker(rc))

	matches := finder.FindSimilarForNew(context.Background(), newInput(), 10, 0)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"Promoted", "Strong", "Demoted"}, []string{matches[0].Title, matches[1].Title, matches[2].Title})
	assert.Equal(t, []int{100, 95, 20}, scores(matches))
}

func TestFindSimilarForNew_WithSemanticChecker(t *testing.T) {
	fx := newFixture(t, 2)
	fx.add(t,
		&core.Record{Title: "Ransomware encrypts file shares", Threat: "criminal group", Description: "payload spreads over SMB", Vector: vectorAt(70)},
		&core.Record{Title: "Malware on shared drives", Threat: "gang", Description: "worm", Vector: vectorAt(80)},
	)
	model := mock.NewMockRechecker().WithCompareFunc(func(context.Context, ai.Subject, ai.Subject) (*ai.Assessment, error) {
		return &ai.Assessment{Score: 91}, nil
	})
	checker, err := recheck.NewChecker(model)
	require.NoError(t, err)
	finder := fx.finder(t, WithRechecker(checker))

	input := newInput()
	input.Title = "Ransomware encrypts file shares (copy)"
	matches := finder.FindSimilarForNew(context.Background(), input, 10, 0)
	assert.Equal(t, []int{91, 91}, scores(matches))
	assert.Equal(t, 2, model.CallCount())
}

func TestFindSimilarForNew_EmbeddingUnavailable(t *testing.T) {
	fx := newFixture(t, 2)
	fx.addScored(t, 2, 90)
	fx.embedder.WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("service down")
	})

	assert.Empty(t, fx.finder(t).FindSimilarForNew(context.Background(), newInput(), 10, 0))
}

func TestFindSimilarForNew_DefaultsKindToRisk(t *testing.T) {
	fx := newFixture(t, 2)
	fx.add(t, &core.Record{Kind: core.RecordKindControl, Title: "Ransomware encrypts file shares"})

	input := newInput()
	input.Kind = 0
	assert.Empty(t, fx.finder(t).FindSimilarForNew(context.Background(), input, 10, 0))
}

func TestFind_StorageFailuresYieldEmpty(t *testing.T) {
	fx := newFixture(t, 2)

	for _, panics := range []bool{false, true} {
		repo := &failingRepository{RecordRepository: fx.repo, panics: panics}
		monitor := newRecordingMonitor()
		finder, err := NewFinder(repo, fx.client, WithMonitor(monitor))
		require.NoError(t, err)

		existing := finder.FindSimilarForExisting(context.Background(), 1, 10)
		assert.NotNil(t, existing)
		assert.Empty(t, existing)

		fresh := finder.FindSimilarForNew(context.Background(), newInput(), 10, 0)
		assert.NotNil(t, fresh)
		assert.Empty(t, fresh)

		assert.Equal(t, []string{opExisting, opNew}, monitor.finished)
	}
}
