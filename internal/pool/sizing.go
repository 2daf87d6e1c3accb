package pool

// DesiredWorkers computes a worker count as parallelism scaled by multiplier and divided across
// the logical threads sharing each physical core. Non-positive multipliers and thread counts are
// treated as 1, and the result is never below 1.
func DesiredWorkers(parallelism int, multiplier int, logicalThreadsPerCore int) int {
	if multiplier < 1 {
		multiplier = 1
	}

	if logicalThreadsPerCore < 1 {
		logicalThreadsPerCore = 1
	}

	if workers := parallelism * multiplier / logicalThreadsPerCore; workers > 1 {
		return workers
	}

	return 1
}
