// Package urgency turns keyword hits and sentiment into a single
// normalized urgency score.
package urgency

import "math"

const (
	// KeywordWeight is the contribution of each distinct domain keyword.
	KeywordWeight = 0.3

	// SentimentWeight scales the magnitude of the sentiment compound.
	SentimentWeight = 0.7
)

// Score combines the number of distinct keywords found in a message with
// the sentiment compound of that message:
//
//	min(1, 0.3*keywords + 0.7*|sentiment|)
//
// Distress is weighted more heavily than keyword density so that a single
// critical keyword is not diluted by verbose phrasing. Out-of-range and NaN
// inputs are clamped; the result is always within [0, 1].
func Score(keywords int, sentiment float64) float64 {
	if keywords < 0 {
		keywords = 0
	}
	if math.IsNaN(sentiment) {
		sentiment = 0
	}
	sentiment = math.Max(-1, math.Min(1, sentiment))

	u := KeywordWeight*float64(keywords) + SentimentWeight*math.Abs(sentiment)
	return math.Max(0, math.Min(1, u))
}

// Peak returns the highest score in a trend, or 0 for an empty trend.
func Peak(trend []float64) float64 {
	var peak float64
	for _, u := range trend {
		if u > peak {
			peak = u
		}
	}
	return peak
}
