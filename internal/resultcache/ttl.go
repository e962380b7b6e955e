package resultcache

import "time"

// Result classes. The class picks the TTL; optimization sweeps are expensive
// to recompute so they live longest, quick scans are throwaway.
const (
	ClassStandard     = "standard"
	ClassOptimization = "optimization"
	ClassMonteCarlo   = "montecarlo"
	ClassQuickScan    = "quick_scan"
)

// TTL constants per result class.
// These are added to time.Now() when storing to calculate expires_at.
const (
	TTLStandard     = 24 * time.Hour
	TTLOptimization = 48 * time.Hour // full grid sweeps are the costliest to redo
	TTLMonteCarlo   = 12 * time.Hour
	TTLQuickScan    = 6 * time.Hour
)

// TTLFor maps a result class to its TTL. Unknown classes get the standard TTL.
func TTLFor(class string) time.Duration {
	switch class {
	case ClassOptimization:
		return TTLOptimization
	case ClassMonteCarlo:
		return TTLMonteCarlo
	case ClassQuickScan:
		return TTLQuickScan
	default:
		return TTLStandard
	}
}
