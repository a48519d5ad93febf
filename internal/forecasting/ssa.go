package forecasting

import "math"

// ssa implements a compact Singular Spectrum Analysis forecaster: the series
// is embedded into a trajectory matrix, the dominant eigentriples of its lag
// covariance are extracted, the series is reconstructed from them by diagonal
// averaging, and future values follow the linear recurrence induced by the
// leading eigenvectors (the standard SSA R-forecast).
type ssa struct {
	window        int
	components    int
	reconstructed []float64
	recurrence    []float64
	stdErr        float64
	fitted        bool
}

const (
	ssaMaxWindow     = 24
	ssaMaxComponents = 3
)

func newSSA() *ssa {
	return &ssa{}
}

func (s *ssa) Fit(data []float64) error {
	n := len(data)
	if n < 4 {
		return errInsufficientData
	}

	// Sanitize: the model must tolerate NaN/Inf samples without failing.
	series := make([]float64, n)
	last := 0.0
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = last
		}
		series[i] = v
		last = v
	}

	window := n / 2
	if window > ssaMaxWindow {
		window = ssaMaxWindow
	}
	if window < 2 {
		window = 2
	}
	k := n - window + 1

	// Lag covariance matrix C = X Xᵀ / k over the trajectory matrix columns.
	cov := make([][]float64, window)
	for i := range cov {
		cov[i] = make([]float64, window)
		for j := 0; j <= i; j++ {
			var sum float64
			for c := 0; c < k; c++ {
				sum += series[c+i] * series[c+j]
			}
			cov[i][j] = sum / float64(k)
			cov[j][i] = cov[i][j]
		}
	}

	components := ssaMaxComponents
	if components > window-1 {
		components = window - 1
	}
	vectors := dominantEigenvectors(cov, components)
	if len(vectors) == 0 {
		return errInsufficientData
	}

	// Reconstruct the series from the selected components by projecting the
	// trajectory matrix onto each eigenvector and diagonal-averaging.
	recon := make([]float64, n)
	counts := make([]float64, n)
	for _, u := range vectors {
		for c := 0; c < k; c++ {
			var proj float64
			for i := 0; i < window; i++ {
				proj += u[i] * series[c+i]
			}
			for i := 0; i < window; i++ {
				recon[c+i] += proj * u[i]
			}
		}
	}
	for c := 0; c < k; c++ {
		for i := 0; i < window; i++ {
			counts[c+i]++
		}
	}
	for i := range recon {
		if counts[i] > 0 {
			recon[i] /= counts[i]
		}
	}

	// Linear recurrence coefficients from the eigenvector heads:
	// R = (1/(1-v²)) Σ πᵢ Uᵢ^(head), πᵢ = last coordinate of Uᵢ.
	var vSq float64
	for _, u := range vectors {
		pi := u[window-1]
		vSq += pi * pi
	}
	if vSq >= 1.0-1e-9 {
		return errDegenerateModel
	}
	rec := make([]float64, window-1)
	for _, u := range vectors {
		pi := u[window-1]
		for i := 0; i < window-1; i++ {
			rec[i] += pi * u[i]
		}
	}
	for i := range rec {
		rec[i] /= 1.0 - vSq
	}

	var residualSq float64
	for i := range series {
		residualSq += (series[i] - recon[i]) * (series[i] - recon[i])
	}

	s.window = window
	s.components = len(vectors)
	s.reconstructed = recon
	s.recurrence = rec
	s.stdErr = math.Sqrt(residualSq / float64(n))
	s.fitted = true
	return nil
}

func (s *ssa) Forecast(steps int) []float64 {
	if !s.fitted || steps <= 0 {
		return nil
	}
	m := s.window - 1
	// Continue the reconstructed series with the learned recurrence.
	tail := make([]float64, 0, m+steps)
	start := len(s.reconstructed) - m
	if start < 0 {
		start = 0
	}
	tail = append(tail, s.reconstructed[start:]...)

	out := make([]float64, steps)
	for i := 0; i < steps; i++ {
		var next float64
		base := len(tail) - m
		for j := 0; j < m && base+j < len(tail); j++ {
			next += s.recurrence[j] * tail[base+j]
		}
		if math.IsNaN(next) || math.IsInf(next, 0) {
			next = tail[len(tail)-1]
		}
		out[i] = next
		tail = append(tail, next)
	}
	return out
}

func (s *ssa) StdError() float64 {
	return s.stdErr
}

// dominantEigenvectors extracts up to count leading eigenvectors of the
// symmetric matrix via power iteration with deflation.
func dominantEigenvectors(m [][]float64, count int) [][]float64 {
	n := len(m)
	work := make([][]float64, n)
	for i := range m {
		work[i] = make([]float64, n)
		copy(work[i], m[i])
	}

	var vectors [][]float64
	for c := 0; c < count; c++ {
		v := make([]float64, n)
		for i := range v {
			v[i] = 1.0 / math.Sqrt(float64(n))
		}
		var lambda float64
		for iter := 0; iter < 100; iter++ {
			next := make([]float64, n)
			for i := 0; i < n; i++ {
				var sum float64
				for j := 0; j < n; j++ {
					sum += work[i][j] * v[j]
				}
				next[i] = sum
			}
			norm := vectorNorm(next)
			if norm < 1e-12 {
				return vectors
			}
			for i := range next {
				next[i] /= norm
			}
			delta := 0.0
			for i := range next {
				delta += math.Abs(next[i] - v[i])
			}
			v = next
			lambda = norm
			if delta < 1e-10 {
				break
			}
		}
		if lambda < 1e-12 {
			break
		}
		vectors = append(vectors, v)
		// Deflate: remove the found component from the working matrix.
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				work[i][j] -= lambda * v[i] * v[j]
			}
		}
	}
	return vectors
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
