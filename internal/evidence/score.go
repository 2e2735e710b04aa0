package evidence

import (
	"math"
	"strings"
	"time"
)

// Score bands per evidence level. Stronger evidence occupies a higher band;
// quality bonuses move a score within its band, never across.
var scoreBands = map[int][2]float64{
	LevelSystematicReview: {80, 100},
	LevelRCT:              {60, 80},
	LevelObservational:    {40, 60},
	LevelCaseSeries:       {20, 40},
	LevelExpertOpinion:    {0, 20},
}

// impactFactors is a small built-in table for major medical journals,
// matched by lowercase substring. Values are approximate 2-year JIF.
var impactFactors = []struct {
	name string
	jif  float64
}{
	{"new england journal of medicine", 96.2},
	{"the lancet", 98.4},
	{"jama", 63.1},
	{"bmj", 93.6},
	{"nature medicine", 58.7},
	{"annals of internal medicine", 19.6},
	{"circulation", 35.5},
	{"journal of clinical oncology", 42.1},
	{"european heart journal", 37.6},
	{"plos medicine", 10.5},
	{"cochrane database of systematic reviews", 8.8},
}

// Score produces an auxiliary quality score in [0,100] for ranking within an
// evidence level. Bonuses: up to +10 for log-scaled sample size, +5 for
// recency (published within two years), +5 for journal impact factor / 10.
// The result is clamped to the level's band.
func Score(level int, sampleSize int, year int, journal string) float64 {
	band, ok := scoreBands[level]
	if !ok {
		band = scoreBands[LevelExpertOpinion]
	}
	score := band[0]

	if sampleSize > 0 {
		// log10(10) = 1 .. log10(100000) = 5 maps onto 0..10
		bonus := math.Log10(float64(sampleSize)) * 2.5
		if bonus > 10 {
			bonus = 10
		}
		if bonus > 0 {
			score += bonus
		}
	}

	if year > 0 && time.Now().Year()-year <= 2 {
		score += 5
	}

	if jif := lookupImpactFactor(journal); jif > 0 {
		bonus := jif / 10
		if bonus > 5 {
			bonus = 5
		}
		score += bonus
	}

	if score > band[1] {
		score = band[1]
	}
	if score < band[0] {
		score = band[0]
	}
	return score
}

func lookupImpactFactor(journal string) float64 {
	j := strings.ToLower(strings.TrimSpace(journal))
	if j == "" {
		return 0
	}
	for _, row := range impactFactors {
		if strings.Contains(j, row.name) {
			return row.jif
		}
	}
	return 0
}
