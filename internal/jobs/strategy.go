package jobs

import "example.com/backstage/services/ota/internal/models"

// batches splits target indexes [0, total) into the ticks a strategy delivers them in.
// Indexes keep registration order within and across batches.
func batches(strategy models.Strategy, total, rollingSize int) [][]int {
	if total <= 0 {
		return nil
	}

	size := 1
	switch strategy {
	case models.StrategyParallel:
		size = total
	case models.StrategyRolling:
		size = rollingSize
		if size < 1 {
			size = 1
		}
	}

	out := make([][]int, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		batch := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		out = append(out, batch)
	}
	return out
}
