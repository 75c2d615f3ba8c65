package order

import (
	"fmt"
	"time"
)

// numberPrefix is the literal prefix of every order number.
const numberPrefix = "VB"

// FormatOrderNumber builds the human-readable order number for the given day
// and daily sequence value: "VB" + YYYY + MM + DD + zero-padded 4-digit
// sequence, e.g. VB202504170007.
//
// The sequence must come from an atomic per-day counter evaluated at
// assignment time (see Repository.Create); formatting is the only concern
// here. Sequences start at 1 for the first order of a day.
func FormatOrderNumber(now time.Time, seq int) string {
	return fmt.Sprintf("%s%s%04d", numberPrefix, now.Format("20060102"), seq)
}
