package evidence

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_LevelTable(t *testing.T) {
	tests := []struct {
		name     string
		pubTypes []string
		want     int
	}{
		{"meta-analysis", []string{"Meta-Analysis"}, 1},
		{"systematic review", []string{"Systematic Review"}, 1},
		{"practice guideline", []string{"Practice Guideline"}, 1},
		{"NIH consensus conference", []string{"Consensus Development Conference, NIH"}, 1},
		{"RCT", []string{"Randomized Controlled Trial"}, 2},
		{"controlled clinical trial", []string{"Controlled Clinical Trial"}, 2},
		{"phase III trial", []string{"Clinical Trial, Phase III"}, 2},
		{"pragmatic trial", []string{"Pragmatic Clinical Trial"}, 2},
		{"cohort study", []string{"Cohort Studies"}, 3},
		{"case-control study", []string{"Case-Control Studies"}, 3},
		{"comparative study", []string{"Comparative Study"}, 3},
		{"phase I trial", []string{"Clinical Trial, Phase I"}, 3},
		{"unqualified clinical trial", []string{"Clinical Trial"}, 3},
		{"multicenter study", []string{"Multicenter Study"}, 3},
		{"case report", []string{"Case Reports"}, 4},
		{"twin study", []string{"Twin Study"}, 4},
		{"historical article", []string{"Historical Article"}, 4},
		{"plain review", []string{"Review"}, 5},
		{"editorial", []string{"Editorial"}, 5},
		{"letter", []string{"Letter"}, 5},
		{"journal article only", []string{"Journal Article"}, 5},
		{"empty input", nil, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.pubTypes))
		})
	}
}

func TestClassify_StrongerTypeWins(t *testing.T) {
	// A meta-analysis is usually also tagged Journal Article and Review;
	// the strongest classification must win regardless of slice order.
	got := Classify([]string{"Journal Article", "Review", "Meta-Analysis"})
	assert.Equal(t, 1, got)

	got = Classify([]string{"Review", "Randomized Controlled Trial"})
	assert.Equal(t, 2, got)
}

func TestClassify_SystematicReviewBeatsBareReview(t *testing.T) {
	// "Systematic Review" contains "review"; it must classify as level 1.
	assert.Equal(t, 1, Classify([]string{"Systematic Review"}))
}

func TestClassify_AlwaysInRange(t *testing.T) {
	// Property: any input, including garbage, lands in [1,5].
	vocab := []string{
		"Meta-Analysis", "Randomized Controlled Trial", "Cohort Studies",
		"Case Reports", "Review", "Journal Article", "", "   ",
		"Research Support, N.I.H., Extramural", "Webcast", "Dataset",
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		n := rng.Intn(5)
		in := make([]string, 0, n)
		for j := 0; j < n; j++ {
			in = append(in, vocab[rng.Intn(len(vocab))])
		}
		level := Classify(in)
		assert.GreaterOrEqual(t, level, 1, fmt.Sprintf("input %v", in))
		assert.LessOrEqual(t, level, 5, fmt.Sprintf("input %v", in))
	}
}

func TestScore_StaysInsideLevelBand(t *testing.T) {
	thisYear := time.Now().Year()
	tests := []struct {
		level   int
		lo, hi  float64
		sample  int
		year    int
		journal string
	}{
		{1, 80, 100, 1_000_000, thisYear, "The Lancet"},
		{2, 60, 80, 50_000, thisYear, "NEJM"},
		{3, 40, 60, 0, 0, ""},
		{4, 20, 40, 10, 1990, "Obscure Journal"},
		{5, 0, 20, 9_999_999, thisYear, "The New England Journal of Medicine"},
	}

	for _, tt := range tests {
		got := Score(tt.level, tt.sample, tt.year, tt.journal)
		assert.GreaterOrEqual(t, got, tt.lo, "level %d", tt.level)
		assert.LessOrEqual(t, got, tt.hi, "level %d", tt.level)
	}
}

func TestScore_BonusesIncreaseScore(t *testing.T) {
	base := Score(2, 0, 0, "")
	withSample := Score(2, 10_000, 0, "")
	withRecency := Score(2, 0, time.Now().Year(), "")
	withJournal := Score(2, 0, 0, "JAMA")

	assert.Greater(t, withSample, base)
	assert.Greater(t, withRecency, base)
	assert.Greater(t, withJournal, base)
}
