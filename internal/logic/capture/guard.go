package capture

// Guard flags frames from a sensor that has not warmed up yet.
//
// It samples raw bytes past the header and counts those below DarkByte.
// This is a statistical approximation, not a decode: the right offset
// depends on the encoder, so the thresholds are configurable. Frames too
// short to reach HeaderOffset are sampled from just after the JPEG marker.
type Guard struct {
	HeaderOffset    int
	SampleWindow    int
	DarkByte        byte
	MaxDarkFraction float64
}

// DefaultGuard returns a guard with the default thresholds.
func DefaultGuard() Guard {
	return Guard{
		HeaderOffset:    DefaultHeaderOffset,
		SampleWindow:    DefaultSampleWindow,
		DarkByte:        DefaultDarkByte,
		MaxDarkFraction: DefaultMaxDarkFraction,
	}
}

func (g Guard) sample(data []byte) []byte {
	start := g.HeaderOffset
	if start >= len(data) {
		start = 2
	}
	if start >= len(data) {
		return nil
	}
	end := start + g.SampleWindow
	if end > len(data) {
		end = len(data)
	}
	return data[start:end]
}

// DarkFraction returns the share of sampled bytes below DarkByte, or 1 when
// there is nothing to sample.
func (g Guard) DarkFraction(data []byte) float64 {
	s := g.sample(data)
	if len(s) == 0 {
		return 1
	}
	dark := 0
	for _, b := range s {
		if b < g.DarkByte {
			dark++
		}
	}
	return float64(dark) / float64(len(s))
}

// IsDegenerate reports whether data looks like a black frame.
func (g Guard) IsDegenerate(data []byte) bool {
	return g.DarkFraction(data) > g.MaxDarkFraction
}
