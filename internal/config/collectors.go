package config

import "gc-diffbench/internal/gclog"

const DefaultTimeoutSeconds = 60

const unlockExperimental = "-XX:+UnlockExperimentalVMOptions"

// DefaultCollectorFlags returns the JVM flags selecting a collector on the
// given runtime version, or nil when the collector has no default there.
// ParallelOldGC was removed in 15, the release ZGC became production ready.
func DefaultCollectorFlags(version string, collector gclog.CollectorType) []string {
	switch collector {
	case gclog.SerialGC:
		return []string{"-XX:+UseSerialGC"}
	case gclog.ParallelGC:
		return []string{"-XX:+UseParallelGC"}
	case gclog.ParallelOldGC:
		if major(version) >= 15 {
			return nil
		}
		return []string{"-XX:+UseParallelGC", "-XX:+UseParallelOldGC"}
	case gclog.G1GC:
		return []string{"-XX:+UseG1GC"}
	case gclog.ZGC:
		if major(version) < 15 {
			return nil
		}
		return []string{"-XX:+UseZGC"}
	case gclog.ShenandoahGC:
		switch m := major(version); {
		case m < 12:
			return []string{unlockExperimental, "-XX:+UseShenandoahGC"}
		case m == 25:
			return []string{"-XX:+UseShenandoahGC", "-XX:ShenandoahGCMode=generational"}
		default:
			return []string{"-XX:+UseShenandoahGC"}
		}
	case gclog.EpsilonGC:
		return []string{unlockExperimental, "-XX:+UseEpsilonGC"}
	}
	return nil
}

// DefaultSTWThresholdsMs are the absolute pause ceilings per collector.
var DefaultSTWThresholdsMs = map[gclog.CollectorType]float64{
	gclog.ZGC:           2,
	gclog.ShenandoahGC:  100,
	gclog.G1GC:          100,
	gclog.ParallelGC:    300,
	gclog.ParallelOldGC: 300,
	gclog.SerialGC:      500,
}

// DefaultDurationRatio applies to collectors without an entry in
// DefaultDurationRatios.
const DefaultDurationRatio = 15.0

// DefaultDurationRatios bound a cell's wall clock as a multiple of the fastest
// cell on the same runtime. Low-latency and no-op collectors are expected to
// be steadier.
var DefaultDurationRatios = map[gclog.CollectorType]float64{
	gclog.SerialGC:      15,
	gclog.ParallelGC:    15,
	gclog.ParallelOldGC: 15,
	gclog.G1GC:          15,
	gclog.ZGC:           5,
	gclog.ShenandoahGC:  15,
	gclog.EpsilonGC:     5,
}

// major extracts the feature release: "1.8" -> 8, "17.0.2" -> 17.
func major(version string) int {
	n := 0
	parts := []rune(version)
	i := 0
	if len(parts) > 2 && parts[0] == '1' && parts[1] == '.' {
		i = 2
	}
	for ; i < len(parts) && parts[i] >= '0' && parts[i] <= '9'; i++ {
		n = n*10 + int(parts[i]-'0')
	}
	return n
}
