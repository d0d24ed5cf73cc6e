package engine

import (
	"fmt"

	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/features"
)

// trustSlope sets the steepness of the affine rescale
//
//	trust = clamp(threshold + trustSlope*(cutoff - raw), 0, 100)
//
// which anchors each model's contamination-calibrated cutoff exactly on
// the configured threshold: a sample scoring at its model's cutoff sits
// on the decision boundary, samples further into the training
// distribution gain trust at trustSlope points per unit of raw score,
// samples beyond it lose trust at the same rate. Contamination thereby
// controls sensitivity: raising it lowers the cutoff and flags more of
// the score distribution. The slope is fixed so the mapping is
// reproducible across runs for the same model and input.
const trustSlope = 200.0

// neutralCutoff is the isolation-forest score of a sample whose path
// length matches the subsample average. Used only for models that carry
// no stored cutoff.
const neutralCutoff = 0.5

// Scorer applies a published model to one feature vector, producing a
// raw anomaly score and a bounded trust verdict.
type Scorer struct {
	cfg domain.EngineConfig
}

// NewScorer creates a scorer with the given decision parameters.
func NewScorer(cfg domain.EngineConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates one sample against a published model. A nil model
// yields the default policy verdict. Detector or normalizer faults are
// recovered into a ScoringError; the returned verdict is then the
// default policy verdict, never a partial result.
func (s *Scorer) Score(model *domain.UserModel, sample domain.TelemetrySample) (verdict domain.Verdict, err error) {
	if model == nil {
		return s.DefaultVerdict(), nil
	}

	defer func() {
		if r := recover(); r != nil {
			verdict = s.DefaultVerdict()
			err = &ScoringError{UserID: model.UserID, Cause: fmt.Errorf("%v", r)}
		}
	}()

	vec := features.Extract(sample)
	normalizer := features.Normalizer{Mean: model.Mean, Scale: model.Scale}
	raw := model.Detector.Score(normalizer.Transform(vec))

	trust := TrustFromRaw(raw, model.Cutoff, s.cfg.TrustThreshold)
	return domain.Verdict{
		TrustScore:  trust,
		RawScore:    raw,
		IsAnomalous: trust < s.cfg.TrustThreshold,
	}, nil
}

// DefaultVerdict is the decision for users without a published baseline.
// Fail-open (trust 100, not anomalous) unless the deployment opted into
// fail-closed-until-baseline.
func (s *Scorer) DefaultVerdict() domain.Verdict {
	if s.cfg.FailClosed {
		return domain.Verdict{TrustScore: 0, IsAnomalous: true, ModelAbsent: true}
	}
	return domain.Verdict{TrustScore: 100, IsAnomalous: false, ModelAbsent: true}
}

// TrustFromRaw maps a raw anomaly score to a trust score in [0,100],
// anchored so raw == cutoff yields exactly the threshold. Monotonically
// decreasing in the raw score. A model without a stored cutoff falls
// back to the detector's neutral boundary.
func TrustFromRaw(raw, cutoff, threshold float64) float64 {
	if cutoff <= 0 {
		cutoff = neutralCutoff
	}
	trust := threshold + trustSlope*(cutoff-raw)
	if trust < 0 {
		return 0
	}
	if trust > 100 {
		return 100
	}
	return trust
}
