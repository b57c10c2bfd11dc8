package fetch

import "fmt"

// DefaultBatchSize is the number of messages fetched per connection.
const DefaultBatchSize = 10

// Range is a contiguous, inclusive span of message sequence numbers fetched
// by one worker.
type Range struct {
	Start uint32
	End   uint32
}

func (r Range) String() string {
	return fmt.Sprintf("%d:%d", r.Start, r.End)
}

// Len returns the number of messages in the range.
func (r Range) Len() int {
	return int(r.End - r.Start + 1)
}

// Partition splits [1, total] into ascending, non-overlapping ranges of at
// most batchSize messages. The last range may be shorter.
func Partition(total, batchSize uint32) []Range {
	if total == 0 || batchSize == 0 {
		return nil
	}
	ranges := make([]Range, 0, (total+batchSize-1)/batchSize)
	for start := uint32(1); start <= total; start += batchSize {
		end := start + batchSize - 1
		if end > total || end < start {
			end = total
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}
