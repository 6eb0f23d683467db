package pcm

// Aligner reassembles float32 samples from a byte stream whose read
// boundaries do not respect sample boundaries. Bytes of a split sample are
// retained until the rest arrives, so no audio is dropped.
//
// An Aligner is not safe for concurrent use.
type Aligner struct {
	pending [BytesPerSample - 1]byte
	n       int
}

// Feed decodes every complete sample formed by the retained bytes followed by
// p, and retains the 0 to 3 bytes left over.
func (a *Aligner) Feed(p []byte) []float32 {
	out := make([]float32, 0, (a.n+len(p))/BytesPerSample)

	if a.n > 0 {
		need := BytesPerSample - a.n
		if len(p) < need {
			a.n += copy(a.pending[a.n:], p)
			return out
		}
		var joined [BytesPerSample]byte
		copy(joined[:], a.pending[:a.n])
		copy(joined[a.n:], p[:need])
		out = DecodeFloat32LE(out, joined[:])
		p = p[need:]
		a.n = 0
	}

	whole := len(p) - len(p)%BytesPerSample
	out = DecodeFloat32LE(out, p[:whole])
	a.n = copy(a.pending[:], p[whole:])
	return out
}

// Pending reports how many bytes are waiting for the rest of their sample.
func (a *Aligner) Pending() int {
	return a.n
}

// Reset discards retained bytes.
func (a *Aligner) Reset() {
	a.n = 0
}
