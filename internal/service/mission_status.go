package service

import (
	"time"

	"github.com/kelasku/kelasku-api/internal/models"
)

// ResolveReviewStatus derives a review's open/extended/closed state from the
// mission deadline and the review's optional extension. An extension takes
// full precedence: once it elapses the review is closed even when the base
// deadline is still in the future.
func ResolveReviewStatus(deadline time.Time, extension *time.Time, now time.Time) models.TimeStatus {
	if extension != nil {
		if extension.After(now) {
			return models.StatusExtended
		}
		return models.StatusClosed
	}
	if deadline.After(now) {
		return models.StatusOpen
	}
	return models.StatusClosed
}

// FarthestExtension returns the latest extension across the reviews, or nil
// when no review has one.
func FarthestExtension(reviews []models.Review) *time.Time {
	var farthest *time.Time
	for i := range reviews {
		ext := reviews[i].Extension
		if ext == nil {
			continue
		}
		if farthest == nil || ext.After(*farthest) {
			farthest = ext
		}
	}
	return farthest
}

// ResolveMissionStatus derives a mission's aggregate state for the teacher
// view. The farthest extension across all reviews wins; with no extensions
// (or no reviews at all) the state follows the deadline alone.
func ResolveMissionStatus(deadline time.Time, reviews []models.Review, now time.Time) models.TimeStatus {
	farthest := FarthestExtension(reviews)
	if farthest == nil {
		if deadline.After(now) {
			return models.StatusOpen
		}
		return models.StatusClosed
	}
	if farthest.After(now) {
		return models.StatusExtended
	}
	return models.StatusClosed
}
