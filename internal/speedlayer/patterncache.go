// patterncache.go implements Tier 3: a learned-pattern classifier,
// "treated as a pure function from features to verdict + confidence"
// per §4.4. The scoring math — Mahalanobis distance against a
// per-command-kind baseline, combined with a Shannon-entropy term — is
// adapted from the anomaly-detection engine; the feature space here is
// per-command (argument count, path depth, argument-value entropy)
// rather than per-process syscall rates, and the output is a
// verdict+confidence pair rather than a raw score feeding a state
// machine.
package speedlayer

import (
	"fmt"
	"math"
	"strings"
)

// Baseline holds the statistical parameters learned for one command
// kind (e.g. "rm", "git-push"). Externally provided and supplied as a
// pure input — PatternCache never mutates a Baseline it is given.
type Baseline struct {
	MeanVector       []float64
	CovarianceMatrix [][]float64
	InvCovariance    [][]float64 // nil => singular, fall back to Euclidean
	BaselineEntropy  float64
}

// PatternCache is Tier 3.
type PatternCache struct {
	baselines       map[string]*Baseline // keyed by Command.Kind
	entropyWeight   float64
	approveBelow    float64 // score < approveBelow => approve
	denyAtOrAbove   float64 // score >= denyAtOrAbove => deny
}

// PatternCacheConfig configures thresholds on the composite score.
// Scores in [approveBelow, denyAtOrAbove) abstain (handed to experts).
type PatternCacheConfig struct {
	EntropyWeight float64
	ApproveBelow  float64
	DenyAtOrAbove float64
}

// NewPatternCache builds a classifier over per-kind baselines.
func NewPatternCache(baselines map[string]*Baseline, cfg PatternCacheConfig) *PatternCache {
	return &PatternCache{
		baselines:     baselines,
		entropyWeight: cfg.EntropyWeight,
		approveBelow:  cfg.ApproveBelow,
		denyAtOrAbove: cfg.DenyAtOrAbove,
	}
}

// Evaluate implements Tier. No baseline for cmd.Kind means abstain (a
// genuinely new command shape — not enough data to classify).
func (p *PatternCache) Evaluate(cmd Command) (Decision, error) {
	baseline := p.baselines[cmd.Kind]
	if baseline == nil {
		return Decision{Verdict: VerdictAbstain, Reason: "patterncache: no baseline for kind"}, nil
	}

	x := featureVector(cmd)
	if len(x) != len(baseline.MeanVector) {
		return Decision{}, fmt.Errorf("patterncache: feature dimension mismatch: got %d, baseline has %d", len(x), len(baseline.MeanVector))
	}

	diff := make([]float64, len(x))
	for i := range x {
		diff[i] = x[i] - baseline.MeanVector[i]
	}

	var mahal float64
	if baseline.InvCovariance != nil {
		mahal = quadraticForm(diff, baseline.InvCovariance)
	} else {
		mahal = euclideanSquared(diff)
	}

	currentEntropy := argValueEntropy(cmd.Args)
	deltaH := math.Abs(currentEntropy - baseline.BaselineEntropy)
	score := mahal + p.entropyWeight*deltaH

	switch {
	case score < p.approveBelow:
		return Decision{Verdict: VerdictApprove, Confidence: confidenceFromScore(score, p.approveBelow, false), Reason: "patterncache: low anomaly score"}, nil
	case score >= p.denyAtOrAbove:
		return Decision{Verdict: VerdictDeny, Confidence: confidenceFromScore(score, p.denyAtOrAbove, true), Reason: "patterncache: high anomaly score"}, nil
	default:
		return Decision{Verdict: VerdictAbstain, Reason: "patterncache: score in the undecided band"}, nil
	}
}

// featureVector derives a small, fixed-dimension feature vector from a
// command: argument count, target path depth, and total argument value
// length. Kept deliberately simple; a real deployment would plug in a
// richer externally-trained feature extractor behind the same Baseline
// shape.
func featureVector(cmd Command) []float64 {
	pathDepth := float64(strings.Count(cmd.TargetPath, "/"))
	argCount := float64(len(cmd.Args))
	var totalLen float64
	for _, v := range cmd.Args {
		totalLen += float64(len(v))
	}
	return []float64{argCount, pathDepth, totalLen}
}

// argValueEntropy computes the Shannon entropy (in bits) of the
// character distribution across all argument values, as a proxy for
// "how structured vs. random does this command's arguments look".
func argValueEntropy(args map[string]string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, v := range args {
		for _, r := range v {
			counts[r]++
			total++
		}
	}
	if total == 0 {
		return 0.0
	}
	var h float64
	ftotal := float64(total)
	for _, c := range counts {
		p := float64(c) / ftotal
		h -= p * math.Log2(p)
	}
	return h
}

// quadraticForm computes vᵀ M v. Complexity O(n²).
func quadraticForm(v []float64, M [][]float64) float64 {
	n := len(v)
	mv := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			mv[i] += M[i][j] * v[j]
		}
	}
	var result float64
	for i := 0; i < n; i++ {
		result += v[i] * mv[i]
	}
	return result
}

func euclideanSquared(v []float64) float64 {
	var sum float64
	for _, vi := range v {
		sum += vi * vi
	}
	return sum
}

// confidenceFromScore maps a score's distance from its threshold into
// [0, 1), approaching 1.0 as the distance grows. Used only as an indicative confidence for
// logging/metrics; the verdict itself is threshold-based, not
// confidence-based.
func confidenceFromScore(score, threshold float64, above bool) float64 {
	var d float64
	if above {
		d = score - threshold
	} else {
		d = threshold - score
	}
	if d < 0 {
		d = 0
	}
	return 1 - 1/(1+d)
}

// InvertCovariance computes the inverse of a symmetric positive-definite
// matrix via Cholesky decomposition. Returns nil if singular or not
// positive-definite, in which case callers fall back to Euclidean
// distance. Called only when a Baseline is (re)trained, never per
// Evaluate call.
func InvertCovariance(cov [][]float64) [][]float64 {
	n := len(cov)
	if n == 0 {
		return nil
	}
	L := choleskyDecompose(cov)
	if L == nil {
		return nil
	}
	linv := invertLowerTriangular(L)
	if linv == nil {
		return nil
	}
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				inv[i][j] += linv[k][i] * linv[k][j]
			}
		}
	}
	return inv
}

func choleskyDecompose(a [][]float64) [][]float64 {
	n := len(a)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil
				}
				L[i][j] = math.Sqrt(sum)
			} else {
				if L[j][j] == 0 {
					return nil
				}
				L[i][j] = sum / L[j][j]
			}
		}
	}
	return L
}

func invertLowerTriangular(L [][]float64) [][]float64 {
	n := len(L)
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
	}
	for j := 0; j < n; j++ {
		if L[j][j] == 0 {
			return nil
		}
		inv[j][j] = 1.0 / L[j][j]
		for i := j + 1; i < n; i++ {
			var sum float64
			for k := j; k < i; k++ {
				sum -= L[i][k] * inv[k][j]
			}
			inv[i][j] = sum / L[i][i]
		}
	}
	return inv
}
