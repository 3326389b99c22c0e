package catalog

import (
	"time"

	"solstream/models"
)

// IsEntitled reports whether an item with the given deals is accessible
// for an account owning the given offers. A deal matches when its
// active-window (if any) contains now and its offer set intersects the
// owned offers.
//
// An empty offer set is entitled to nothing; callers that have no
// entitlement context at all pass a nil map to parse functions instead of
// invoking this filter. The same now must be reused across one whole
// listing so items on a window boundary do not flap within a response.
func IsEntitled(deals []models.Deal, offers map[string]bool, now time.Time) bool {
	if len(offers) == 0 {
		return false
	}

	for _, deal := range deals {
		if deal.Start != nil && deal.End != nil {
			if now.Before(*deal.Start) || now.After(*deal.End) {
				continue
			}
		}
		for _, id := range deal.Offers {
			if offers[id] {
				return true
			}
		}
	}

	return false
}
