package scape

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// GravityScore is the coupling evaluation of one gravity run.
type GravityScore struct {
	DeltaCurv     float64
	CouplingCoeff float64
	KappaMean     float64
	Effort        float64
	Idle          float64
	CouplingScore float64
}

// ScoreGravity evaluates
//
//	Δcurv          = curvT − curv0
//	denom          = max(1e-12, max(curl_rmsT, 0.01))
//	coupling_coeff = −Δcurv/denom
//	idle           = max(0, 0.5·κcap − mean(κ)) / (0.5·κcap)
//	effort         = std(κ)
//	coupling_score = coupling_coeff − 2.5·effort − 0.25·idle
//
// A zero cap counts as fully idle.
func ScoreGravity(kappa []float64, curv0, curvT, curlT, kappaCap float64) GravityScore {
	s := GravityScore{DeltaCurv: curvT - curv0}
	denom := math.Max(1e-12, math.Max(curlT, 0.01))
	s.CouplingCoeff = -s.DeltaCurv / denom
	s.KappaMean, s.Effort = meanStd(kappa)
	half := 0.5 * kappaCap
	if half > 0 {
		s.Idle = math.Max(0, half-s.KappaMean) / half
	} else {
		s.Idle = 1
	}
	s.CouplingScore = s.CouplingCoeff - 2.5*s.Effort - 0.25*s.Idle
	return s
}

// meanStd returns the mean and population standard deviation, both zero for
// an empty series.
func meanStd(x []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return mean, std
}
