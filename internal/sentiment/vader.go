package sentiment

import (
	"github.com/jonreiter/govader"
)

// Scorer rates post text with the VADER compound polarity in [-1, 1].
type Scorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewScorer loads the VADER lexicon. Build one and reuse it.
func NewScorer() *Scorer {
	return &Scorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (s *Scorer) Polarity(text string) float64 {
	return s.analyzer.PolarityScores(text).Compound
}

// Average returns the mean polarity of texts, or zero when there are none.
func (s *Scorer) Average(texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	var total float64
	for _, text := range texts {
		total += s.Polarity(text)
	}
	return total / float64(len(texts))
}
