package media

import "time"

var processStart = time.Now()

// NowMicros returns monotonic microseconds since process start. Used for
// presentation timestamps and PING round-trip measurement; never derived
// from wall-clock time so it is immune to clock adjustments.
func NowMicros() int64 {
	return time.Since(processStart).Microseconds()
}
