package review

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/vocabio/internal/auth"
	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/srs"
	"github.com/conorfennell/vocabio/internal/storage"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db      *storage.DB
	svc     *Service
	clock   time.Time
	session auth.Session
	source  int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, clock: now, session: auth.Issue("alice", 30*24*time.Hour, now)}
	opts = append([]Option{WithClock(func() time.Time { return f.clock })}, opts...)
	f.svc = NewService(db, opts...)

	f.source, err = db.InsertSource(context.Background(), "/decks", domain.SourceLocal)
	require.NoError(t, err)
	return f
}

func (f *fixture) vocabulary(t *testing.T, word string) domain.Vocabulary {
	t.Helper()
	v, err := f.db.InsertVocabulary(context.Background(), domain.Vocabulary{
		Word:        word,
		Hash:        "hash-" + word,
		Definitions: []domain.Definition{{Definition: word}},
	}, f.source)
	require.NoError(t, err)
	return v
}

func (f *fixture) review(t *testing.T, id string, q int) *domain.Progress {
	t.Helper()
	p, err := f.svc.Review(context.Background(), f.session, ReviewRequest{VocabularyID: id, Quality: &q})
	require.NoError(t, err)
	return p
}

func quality(q int) *int { return &q }

func TestRequiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "hond")

	sessions := map[string]auth.Session{
		"empty":   {},
		"expired": auth.Issue("alice", time.Hour, now.Add(-2*time.Hour)),
	}
	for name, session := range sessions {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Review(ctx, session, ReviewRequest{VocabularyID: v.ID, Quality: quality(4)})
			assert.ErrorIs(t, err, ErrUnauthenticated)
			_, err = f.svc.Progress(ctx, session, v.ID)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			_, err = f.svc.Due(ctx, session, DueQuery{})
			assert.ErrorIs(t, err, ErrUnauthenticated)
			_, err = f.svc.Preview(ctx, session, v.ID)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			_, err = f.svc.Statistics(ctx, session)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestReviewValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "hond")

	testCases := []struct {
		name string
		req  ReviewRequest
	}{
		{name: "missing vocabulary", req: ReviewRequest{Quality: quality(3)}},
		{name: "missing quality", req: ReviewRequest{VocabularyID: v.ID}},
		{name: "quality too high", req: ReviewRequest{VocabularyID: v.ID, Quality: quality(6)}},
		{name: "negative quality", req: ReviewRequest{VocabularyID: v.ID, Quality: quality(-1)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Review(ctx, f.session, tc.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := f.svc.Review(ctx, f.session, ReviewRequest{VocabularyID: "missing", Quality: quality(3)})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := f.db.CountReviews(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReviewSchedules(t *testing.T) {
	f := newFixture(t)
	v := f.vocabulary(t, "hond")

	first := f.review(t, v.ID, 0)
	assert.Equal(t, 0, first.State.Repetitions)
	assert.InDelta(t, 1.7, first.State.Easiness, 1e-9)

	f.clock = now.AddDate(0, 0, 1)
	second := f.review(t, v.ID, 4)
	assert.Equal(t, 1, second.State.Repetitions)
	assert.Equal(t, 1, second.State.Interval)
	assert.InDelta(t, 1.7, second.State.Easiness, 1e-9)
	require.NotNil(t, second.State.NextReviewAt)
	assert.True(t, now.AddDate(0, 0, 2).Equal(*second.State.NextReviewAt))
}

func TestReviewIsSerialized(t *testing.T) {
	f := newFixture(t)
	v := f.vocabulary(t, "hond")

	const reviews = 8
	var wg sync.WaitGroup
	for i := 0; i < reviews; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := int(srs.Perfect)
			_, err := f.svc.Review(context.Background(), f.session, ReviewRequest{VocabularyID: v.ID, Quality: &q})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.db.FindProgress(context.Background(), "alice", v.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, reviews, p.State.Repetitions)
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "hond")

	view, err := f.svc.Progress(ctx, f.session, v.ID)
	require.NoError(t, err)
	assert.Nil(t, view.State)
	assert.Equal(t, srs.MasteryNew, view.Mastery)
	assert.True(t, view.Due)

	f.review(t, v.ID, 5)
	view, err = f.svc.Progress(ctx, f.session, v.ID)
	require.NoError(t, err)
	require.NotNil(t, view.State)
	assert.Equal(t, 1, view.State.Repetitions)
	assert.Equal(t, srs.MasteryLearning, view.Mastery)
	assert.False(t, view.Due)

	_, err = f.svc.Progress(ctx, f.session, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDue(t *testing.T) {
	f := newFixture(t, WithDueLimit(1))
	ctx := context.Background()
	a := f.vocabulary(t, "appel")
	b := f.vocabulary(t, "boom")
	f.vocabulary(t, "citroen")

	f.review(t, a.ID, 5)

	due, err := f.svc.Due(ctx, f.session, DueQuery{})
	require.NoError(t, err)
	assert.Len(t, due, 1, "configured limit applies")

	due, err = f.svc.Due(ctx, f.session, DueQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.NotContains(t, []string{due[0].ID, due[1].ID}, a.ID)
	assert.Contains(t, []string{due[0].ID, due[1].ID}, b.ID)

	f.clock = now.AddDate(0, 0, 1)
	due, err = f.svc.Due(ctx, f.session, DueQuery{Limit: 10, SourceID: f.source})
	require.NoError(t, err)
	assert.Len(t, due, 3)

	_, err = f.svc.Due(ctx, f.session, DueQuery{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "hond")

	outcomes, err := f.svc.Preview(ctx, f.session, v.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 6)
	for i, o := range outcomes {
		assert.Equal(t, srs.Quality(i), o.Quality)
		assert.Equal(t, 1, o.State.Interval)
	}
	assert.Equal(t, "perfect", outcomes[5].Label)

	p, err := f.db.FindProgress(ctx, "alice", v.ID)
	require.NoError(t, err)
	assert.Nil(t, p, "preview stores nothing")

	f.review(t, v.ID, 5)
	outcomes, err = f.svc.Preview(ctx, f.session, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, outcomes[srs.Perfect].State.Interval)
	assert.Equal(t, 1, outcomes[srs.Blackout].State.Interval)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.Statistics(ctx, f.session)
	require.NoError(t, err)
	assert.Equal(t, domain.Statistics{}, empty)

	a := f.vocabulary(t, "appel")
	b := f.vocabulary(t, "boom")
	c := f.vocabulary(t, "citroen")
	f.vocabulary(t, "dak")

	// c was reviewed yesterday and is due exactly now.
	f.clock = now.AddDate(0, 0, -1)
	f.review(t, c.ID, 5)
	f.clock = now
	f.review(t, a.ID, 5)
	f.review(t, b.ID, 0)

	st, err := f.svc.Statistics(ctx, f.session)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DueToday)
	assert.Equal(t, 3, st.DueThisWeek)
	assert.Equal(t, 0, st.Mastered)
	assert.Equal(t, 2, st.Learning)
	assert.Equal(t, 2, st.NewCards, "one reset and one never reviewed")
	assert.Equal(t, 3, st.TotalReviews)
	assert.InDelta(t, 2.3, st.AverageEasiness, 1e-9)
	assert.Equal(t, 1.0, st.MedianInterval)
	assert.Equal(t, 2, st.Streak)
}

func TestStatisticsDayBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	midnight := now.Truncate(24 * time.Hour)
	a := f.vocabulary(t, "appel")
	b := f.vocabulary(t, "boom")

	// a comes due exactly at the start of tomorrow, b one second before it.
	f.clock = midnight
	f.review(t, a.ID, 5)
	f.clock = midnight.Add(-time.Second)
	f.review(t, b.ID, 5)

	f.clock = now
	st, err := f.svc.Statistics(ctx, f.session)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DueToday)
	assert.Equal(t, 2, st.DueThisWeek)
}

func TestSessionExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session = auth.Issue("alice", time.Hour, now)

	f.clock = now.Add(time.Hour - time.Second)
	_, err := f.svc.Due(ctx, f.session, DueQuery{})
	require.NoError(t, err)

	f.clock = now.Add(time.Hour)
	_, err = f.svc.Due(ctx, f.session, DueQuery{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "hond")

	f.review(t, v.ID, 2)
	f.clock = now.AddDate(0, 0, 1)
	f.review(t, v.ID, 5)

	logs, err := f.svc.History(ctx, f.session, v.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, srs.IncorrectEasyRecall, logs[0].Quality)
	assert.Equal(t, srs.Perfect, logs[1].Quality)
	assert.True(t, now.AddDate(0, 0, 1).Equal(logs[1].ReviewedAt))

	bob := auth.Issue("bob", time.Hour, f.clock)
	logs, err = f.svc.History(ctx, bob, v.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = f.svc.History(ctx, f.session, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSourceProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.vocabulary(t, "appel")
	f.vocabulary(t, "boom")

	other, err := f.db.InsertSource(ctx, "/more-decks", domain.SourceLocal)
	require.NoError(t, err)
	_, err = f.db.InsertVocabulary(ctx, domain.Vocabulary{Word: "kat", Hash: "hash-kat"}, other)
	require.NoError(t, err)

	f.review(t, a.ID, 5)

	got, err := f.svc.SourceProgress(ctx, f.session)
	require.NoError(t, err)
	assert.Equal(t, []domain.SourceProgress{
		{SourceID: f.source, Total: 2, Reviewed: 1, Mastered: 0, Due: 1},
		{SourceID: other, Total: 1, Reviewed: 0, Mastered: 0, Due: 1},
	}, got)
}

func TestDailyStreak(t *testing.T) {
	day := func(offset int) time.Time { return now.AddDate(0, 0, offset) }
	testCases := []struct {
		name    string
		reviews []time.Time
		want    int
	}{
		{name: "no reviews", want: 0},
		{name: "today only", reviews: []time.Time{day(0)}, want: 1},
		{name: "running since yesterday", reviews: []time.Time{day(-1), day(-2)}, want: 2},
		{name: "three days with repeats", reviews: []time.Time{day(0), day(0), day(-1), day(-2)}, want: 3},
		{name: "gap breaks the streak", reviews: []time.Time{day(0), day(-2), day(-3)}, want: 1},
		{name: "lapsed", reviews: []time.Time{day(-2)}, want: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, dailyStreak(tc.reviews, now))
		})
	}
}
