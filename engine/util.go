package engine

import "math"

func mathFloatBits(v float64) uint64 { return math.Float64bits(v) }
