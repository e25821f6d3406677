package fraud

// Classifier decides whether an account's usage pattern looks
// anomalous. Implementations must be deterministic for a given
// feature pair.
type Classifier interface {
	Flag(usageCount, riskScore int) bool
}

// sample is one labeled observation of (usageCount, riskScore).
type sample struct {
	usage     float64
	risk      float64
	anomalous bool
}

// seedSamples is the fixed training set for the built-in model,
// hand-labeled from abuse reports: benign accounts burn quota slowly
// and carry little prior score, flagged accounts show dense usage on
// top of an already elevated score.
var seedSamples = []sample{
	{1, 0, false},
	{2, 0, false},
	{3, 5, false},
	{4, 10, false},
	{6, 10, false},
	{8, 15, false},
	{2, 25, false},
	{7, 45, true},
	{9, 40, true},
	{10, 60, true},
	{8, 80, true},
	{10, 100, true},
}

// CentroidClassifier is a nearest-centroid model over the two feature
// dimensions. It carries no state beyond the two centroids, so
// classification is pure and trivially reproducible.
type CentroidClassifier struct {
	normal  [2]float64
	anomaly [2]float64
}

// NewCentroidClassifier trains the model on the built-in seed set.
func NewCentroidClassifier() *CentroidClassifier {
	c := &CentroidClassifier{}
	var nNorm, nAnom float64
	for _, s := range seedSamples {
		if s.anomalous {
			c.anomaly[0] += s.usage
			c.anomaly[1] += s.risk
			nAnom++
		} else {
			c.normal[0] += s.usage
			c.normal[1] += s.risk
			nNorm++
		}
	}
	c.normal[0] /= nNorm
	c.normal[1] /= nNorm
	c.anomaly[0] /= nAnom
	c.anomaly[1] /= nAnom
	return c
}

// Flag reports whether the feature pair sits closer to the anomalous
// centroid than the benign one. Squared distances, no need for the
// root.
func (c *CentroidClassifier) Flag(usageCount, riskScore int) bool {
	u, r := float64(usageCount), float64(riskScore)
	dn := sq(u-c.normal[0]) + sq(r-c.normal[1])
	da := sq(u-c.anomaly[0]) + sq(r-c.anomaly[1])
	return da < dn
}

func sq(x float64) float64 { return x * x }

// StaticClassifier always returns a fixed verdict. Tests only.
type StaticClassifier bool

func (s StaticClassifier) Flag(int, int) bool { return bool(s) }
