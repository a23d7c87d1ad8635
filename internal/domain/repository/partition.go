package repository

import (
	"fmt"
	"time"
)

// PartitionLayout is the CLI and storage format of a batch partition key.
const PartitionLayout = "2006-01-02"

// PartitionDay truncates t to the start of its UTC day.
func PartitionDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParsePartition parses a YYYY-MM-DD partition key.
func ParsePartition(s string) (time.Time, error) {
	t, err := time.Parse(PartitionLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("partition %q: expected %s", s, PartitionLayout)
	}
	return t, nil
}

// PartitionRange returns days consecutive partitions starting at start.
func PartitionRange(start time.Time, days int) []time.Time {
	if days <= 0 {
		days = 1
	}
	start = PartitionDay(start)
	out := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, start.AddDate(0, 0, i))
	}
	return out
}
