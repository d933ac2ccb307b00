// Package vecmath 提供打分与重排使用的向量运算。
package vecmath

import "math"

// cosineEpsilon 避免零向量除零
const cosineEpsilon = 1e-8

// NormalizedDot 返回 a·b / len(a)，按较短长度截断；任一向量为空返回 0。
// a 是用户侧向量（trait/state），b 是候选向量。
func NormalizedDot(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s / float64(len(a))
}

// Cosine 返回余弦相似度；任一向量为空返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var s, na, nb float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return s / (math.Sqrt(na)*math.Sqrt(nb) + cosineEpsilon)
}

// Clamp 把 v 限制在 [lo, hi]。
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
