package fraud

import "github.com/dataparency-dev/verification-core/types"

// detectTime implements the time-based sub-detector (spec §4.3).
// Fewer than 5 recent activities -> 0 (insufficient baseline).
func detectTime(recent []types.WorkerActivity, processingTimeMs int64, minProcessingTimeMs int64) (float64, string) {
	if len(recent) < 5 {
		return 0, ""
	}

	if processingTimeMs < minProcessingTimeMs {
		return 0.9, "processing time below minimum threshold"
	}

	var sum int64
	for _, a := range recent {
		sum += a.ProcessingTimeMs
	}
	avg := float64(sum) / float64(len(recent))
	if avg <= 0 {
		return 0, ""
	}

	ratio := float64(processingTimeMs) / avg
	switch {
	case ratio < 0.5:
		return 0.7, "processing time well below worker's recent average"
	case ratio < 0.7:
		return 0.4, "processing time below worker's recent average"
	default:
		return 0, ""
	}
}
