package journal

import "fmt"

// OpRange is an inclusive range of journal operation indexes.
type OpRange struct {
	From uint64
	To   uint64
}

func (r OpRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits [from, to] into batches of at most batchSize operations.
func SplitRange(from, to, batchSize uint64) ([]OpRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("range end %d is before start %d", to, from)
	}

	var ranges []OpRange
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, OpRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}
