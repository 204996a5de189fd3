package catalog

import "math"

// Stats are the derived rating fields stored on a product.
type Stats struct {
	Average *float64 `json:"rating_average"`
	Count   int      `json:"review_count"`
}

// ComputeStats derives Stats from every rating of a product. The average is
// rounded to two decimals and nil when there are no ratings.
func ComputeStats(ratings []int) Stats {
	if len(ratings) == 0 {
		return Stats{}
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	avg := math.Round(float64(sum)/float64(len(ratings))*100) / 100
	return Stats{Average: &avg, Count: len(ratings)}
}

// StatsChange is the result of recomputing a product's stats.
type StatsChange struct {
	ProductID  int64
	CategoryID int64
	Before     Stats
	After      Stats
}

// RatingDelta is the change in average rating, treating no rating as 0.
func (c StatsChange) RatingDelta() float64 {
	return value(c.After.Average) - value(c.Before.Average)
}

func value(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
