package funding

import "fmt"

// Classify maps a source category to a lifecycle status. Pure and total:
// every known category maps to exactly one status, anything else is an
// error the caller folds into a normalization warning.
func Classify(cat Category) (Status, error) {
	switch cat {
	case CategoryLoan:
		return StatusActive, nil
	case CategoryOffer:
		return StatusOffered, nil
	case CategoryIdle:
		return StatusInactive, nil
	default:
		return "", fmt.Errorf("unrecognized record category %q", cat)
	}
}
