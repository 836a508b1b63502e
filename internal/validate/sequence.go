package validate

import (
	"fmt"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// duplicateWindowMs is how close two consecutive timestamps must be to be
// flagged as a likely duplicate observation.
const duplicateWindowMs = 1

// Sequence checks the ordering invariants over a tick stream: timestamps
// must be non-decreasing, sequence numbers (where assigned) strictly
// increasing, and consecutive timestamps within one unit are flagged as
// likely duplicates. Every violation across the stream is reported, not just
// the first. Index on each issue refers to the later tick of the offending
// pair.
func Sequence(ticks []domain.OddsTick) []Issue {
	var issues []Issue

	for i := 1; i < len(ticks); i++ {
		prev, cur := ticks[i-1], ticks[i]

		if cur.Timestamp < prev.Timestamp {
			issues = append(issues, Issue{
				Field: "timestamp", Code: CodeTimestampRegress, Index: i,
				Message: fmt.Sprintf("tick %d timestamp %d precedes previous %d", i, cur.Timestamp, prev.Timestamp),
			})
		} else if cur.Timestamp-prev.Timestamp <= duplicateWindowMs {
			issues = append(issues, Issue{
				Field: "timestamp", Code: CodeLikelyDuplicate, Index: i,
				Message: fmt.Sprintf("tick %d timestamp %d within %dms of previous", i, cur.Timestamp, duplicateWindowMs),
			})
		}

		// Sequence 0 means the feed assigned none; only compare assigned pairs.
		if prev.Sequence > 0 && cur.Sequence > 0 && cur.Sequence <= prev.Sequence {
			issues = append(issues, Issue{
				Field: "sequence", Code: CodeSequenceRegress, Index: i,
				Message: fmt.Sprintf("tick %d sequence %d not above previous %d", i, cur.Sequence, prev.Sequence),
			})
		}
	}

	return issues
}
