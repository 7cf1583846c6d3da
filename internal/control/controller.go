// Package control holds the actuation policies that drive the field
// simulators. Controllers are pulled by the simulator once per step and only
// observe scalar metrics; they never reach back into simulator state.
package control

import (
	"math"
	"math/rand"

	"pfsap/internal/model"
)

// Controller maps (step, metrics) to a scalar actuation (κ or g).
type Controller interface {
	Name() string
	// Reset returns the controller to its initial state. Calling it twice is
	// the same as calling it once.
	Reset()
	Step(t int, m model.Metrics) float64
}

const (
	OpenLoopName          = "open_loop"
	RandomJitterName      = "random_jitter"
	ProportionalCurlName  = "proportional_curl"
	PhaseLockRecyclerName = "phase_lock_recycler"
)

const (
	jitterSeedSalt = 101
	spgdSeedSalt   = 202
)

// SubSeed derives a controller-owned PRNG seed from the run seed.
func SubSeed(runSeed int64, salt int64) int64 {
	return runSeed*1_000_003 + salt
}

// OpenLoop returns a constant actuation.
type OpenLoop struct {
	Kappa float64
}

func (c *OpenLoop) Name() string { return OpenLoopName }

func (c *OpenLoop) Reset() {}

func (c *OpenLoop) Step(int, model.Metrics) float64 { return c.Kappa }

// RandomJitter is the noisy open-loop baseline: clip(κ₀ + N(0, σ), 0, cap).
type RandomJitter struct {
	Kappa0 float64
	Sigma  float64
	Cap    float64

	seed int64
	rng  *rand.Rand
}

func NewRandomJitter(kappa0, sigma, cap float64, runSeed int64) *RandomJitter {
	c := &RandomJitter{Kappa0: kappa0, Sigma: sigma, Cap: cap, seed: SubSeed(runSeed, jitterSeedSalt)}
	c.Reset()
	return c
}

func (c *RandomJitter) Name() string { return RandomJitterName }

func (c *RandomJitter) Reset() {
	c.rng = rand.New(rand.NewSource(c.seed))
}

// Seed reports the derived sub-PRNG seed.
func (c *RandomJitter) Seed() int64 { return c.seed }

func (c *RandomJitter) Step(int, model.Metrics) float64 {
	if c.rng == nil {
		c.Reset()
	}
	return clip(c.Kappa0+c.rng.NormFloat64()*c.Sigma, 0, c.Cap)
}

// ProportionalCurlDrive integrates the curl error: κ ← clip(κ + kp·(target − curl_rms), 0, cap).
type ProportionalCurlDrive struct {
	Target float64
	Kp     float64
	Cap    float64

	kappa float64
}

func (c *ProportionalCurlDrive) Name() string { return ProportionalCurlName }

func (c *ProportionalCurlDrive) Reset() { c.kappa = 0 }

func (c *ProportionalCurlDrive) Step(_ int, m model.Metrics) float64 {
	c.kappa = clip(c.kappa+c.Kp*(c.Target-m.CurlRMS), 0, c.Cap)
	return c.kappa
}

// IntegratorMax bounds the PhaseLockRecycler integrator.
const IntegratorMax = 10.0

// PhaseLockRecycler is a PI law on coherence R with anti-windup: the
// integrator only accumulates positive error and stays in [0, IntegratorMax].
type PhaseLockRecycler struct {
	TargetR float64
	Kp      float64
	Ki      float64
	Gamma   float64
	Eta     float64
	GMax    float64

	integrator float64
}

func (c *PhaseLockRecycler) Name() string { return PhaseLockRecyclerName }

func (c *PhaseLockRecycler) Reset() { c.integrator = 0 }

// Integrator exposes the accumulated error term.
func (c *PhaseLockRecycler) Integrator() float64 { return c.integrator }

func (c *PhaseLockRecycler) Step(_ int, m model.Metrics) float64 {
	err := c.TargetR - m.R
	if err > 0 {
		c.integrator = clip(c.integrator+err, 0, IntegratorMax)
	}
	bias := clip(c.Eta-c.Gamma, 0, 1)
	return clip(c.Kp*err+c.Ki*c.integrator+bias, 0, c.GMax)
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(hi, v))
}
