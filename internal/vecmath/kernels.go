package vecmath

// dotScalar is the reference implementation.
func dotScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// dotUnrolled processes eight lanes per iteration with four independent
// accumulators so the compiler can keep the FMA pipeline full. Must stay
// numerically equivalent to dotScalar within floating-point tolerance.
func dotUnrolled(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+8 <= n; i += 8 {
		s0 += a[i]*b[i] + a[i+1]*b[i+1]
		s1 += a[i+2]*b[i+2] + a[i+3]*b[i+3]
		s2 += a[i+4]*b[i+4] + a[i+5]*b[i+5]
		s3 += a[i+6]*b[i+6] + a[i+7]*b[i+7]
	}
	sum := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
