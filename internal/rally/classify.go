package rally

// classify buckets a validated window by length and shape. Order matters:
// a short violent move is explosive even when choppy, and very low green
// ratios read as ultra-choppy before anything else length-based.
func classify(r Rally) Type {
	length := r.Len()
	switch {
	case length <= 10 && r.TotalGainPct >= 50:
		return TypeExplosive
	case r.GreenRatio < 0.50:
		return TypeUltraChoppy
	case r.GreenRatio < 0.65:
		return TypeChoppy
	case length > 30:
		return TypeGrind
	default:
		return TypeStandard
	}
}
