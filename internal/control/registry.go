package control

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pfsap/internal/model"
	"pfsap/internal/scapeid"
)

var (
	ErrUnknownController = errors.New("unknown controller")
	ErrControllerExists  = errors.New("controller already registered")
	ErrIncompatible      = errors.New("controller incompatible with pillar")
)

// Params carries named controller parameters; missing keys fall back to the
// factory defaults.
type Params map[string]float64

func (p Params) get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Factory builds a scalar controller for a run seed.
type Factory func(params Params, runSeed int64) Controller

// MaskFactory builds a phase-mask controller for an N×N aperture.
type MaskFactory func(params Params, n int, runSeed int64) MaskController

type ControllerSpec struct {
	Name    string
	Factory Factory
	Mask    MaskFactory
	// Pillars limits the controller to the listed pillars; empty means any.
	Pillars []string
}

var controllerRegistry = struct {
	mu sync.RWMutex
	m  map[string]ControllerSpec
}{
	m: make(map[string]ControllerSpec),
}

func init() {
	initializeDefaultControllers()
}

func initializeDefaultControllers() {
	defaults := []ControllerSpec{
		{
			Name: OpenLoopName,
			Factory: func(p Params, _ int64) Controller {
				return &OpenLoop{Kappa: p.get("kappa", 0)}
			},
			Pillars: []string{model.PillarGravity, model.PillarThermo},
		},
		{
			Name: RandomJitterName,
			Factory: func(p Params, seed int64) Controller {
				return NewRandomJitter(p.get("kappa0", 0.1), p.get("sigma", 0.05), p.get("cap", 0.30), seed)
			},
			Pillars: []string{model.PillarGravity, model.PillarThermo},
		},
		{
			Name: ProportionalCurlName,
			Factory: func(p Params, _ int64) Controller {
				return &ProportionalCurlDrive{Target: p.get("target", 0.035), Kp: p.get("kp", 6.0), Cap: p.get("cap", 0.30)}
			},
			Pillars: []string{model.PillarGravity},
		},
		{
			Name: PhaseLockRecyclerName,
			Factory: func(p Params, _ int64) Controller {
				return &PhaseLockRecycler{
					TargetR: p.get("target_R", 0.99),
					Kp:      p.get("kp", 6.0),
					Ki:      p.get("ki", 0.08),
					Gamma:   p.get("gamma", 0.18),
					Eta:     p.get("eta", 0.22),
					GMax:    p.get("g_max", 2.5),
				}
			},
			Pillars: []string{model.PillarThermo},
		},
		{
			Name: GerchbergSaxtonROIName,
			Mask: func(p Params, n int, _ int64) MaskController {
				return &GerchbergSaxtonROI{
					N:          n,
					MaxStep:    p.get("max_step", 0.5),
					InnerIters: int(p.get("inner_iters", 3)),
					ROIWeight:  p.get("roi_weight", 0.6),
				}
			},
			Pillars: []string{model.PillarEnergy},
		},
		{
			Name: SPGDName,
			Mask: func(p Params, n int, seed int64) MaskController {
				return NewSPGD(n, p.get("delta", 0.1), p.get("lr", 20.0), seed)
			},
			Pillars: []string{model.PillarEnergy},
		},
		{
			// The open-loop mask baseline never touches the mask.
			Name: OpenLoopName + "_mask",
			Mask: func(Params, int, int64) MaskController {
				return staticMask{}
			},
			Pillars: []string{model.PillarEnergy},
		},
	}
	for _, spec := range defaults {
		if err := Register(spec); err != nil {
			panic(err)
		}
	}
}

// Register adds a controller spec to the global registry.
func Register(spec ControllerSpec) error {
	if spec.Name == "" {
		return errors.New("controller name is required")
	}
	if spec.Factory == nil && spec.Mask == nil {
		return errors.New("controller factory is required")
	}

	controllerRegistry.mu.Lock()
	defer controllerRegistry.mu.Unlock()

	if _, exists := controllerRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrControllerExists, spec.Name)
	}
	controllerRegistry.m[spec.Name] = spec
	return nil
}

// New resolves a scalar controller compatible with the pillar.
func New(name, pillar string, params Params, runSeed int64) (Controller, error) {
	spec, err := resolve(name, pillar)
	if err != nil {
		return nil, err
	}
	if spec.Factory == nil {
		return nil, fmt.Errorf("%w: %s is a mask controller", ErrIncompatible, spec.Name)
	}
	return spec.Factory(params, runSeed), nil
}

// NewMask resolves a phase-mask controller compatible with the pillar.
func NewMask(name, pillar string, params Params, n int, runSeed int64) (MaskController, error) {
	if canonicalName(name) == OpenLoopName {
		name = OpenLoopName + "_mask"
	}
	spec, err := resolve(name, pillar)
	if err != nil {
		return nil, err
	}
	if spec.Mask == nil {
		return nil, fmt.Errorf("%w: %s is a scalar controller", ErrIncompatible, spec.Name)
	}
	return spec.Mask(params, n, runSeed), nil
}

// ListForPillar returns controller names usable with the pillar, sorted.
func ListForPillar(pillar string) []string {
	normalized := scapeid.Normalize(pillar)

	controllerRegistry.mu.RLock()
	defer controllerRegistry.mu.RUnlock()

	names := make([]string, 0, len(controllerRegistry.m))
	for name, spec := range controllerRegistry.m {
		if compatibilityError(spec, normalized) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resolve(name, pillar string) (ControllerSpec, error) {
	lookup := canonicalName(name)

	controllerRegistry.mu.RLock()
	spec, ok := controllerRegistry.m[lookup]
	controllerRegistry.mu.RUnlock()
	if !ok {
		return ControllerSpec{}, fmt.Errorf("%w: %s", ErrUnknownController, name)
	}
	if err := compatibilityError(spec, scapeid.Normalize(pillar)); err != nil {
		return ControllerSpec{}, err
	}
	return spec, nil
}

func compatibilityError(spec ControllerSpec, pillar string) error {
	if len(spec.Pillars) == 0 || pillar == "" {
		return nil
	}
	for _, p := range spec.Pillars {
		if p == pillar {
			return nil
		}
	}
	return fmt.Errorf("%w: controller=%s pillar=%s", ErrIncompatible, spec.Name, pillar)
}

func canonicalName(name string) string {
	n := strings.TrimSpace(strings.ToLower(name))
	n = strings.ReplaceAll(n, "-", "_")
	switch n {
	case "openloop", "open":
		return OpenLoopName
	case "jitter", "randomjitter":
		return RandomJitterName
	case "proportional_curl_drive", "proportionalcurldrive", "p_curl":
		return ProportionalCurlName
	case "recycler", "phaselockrecycler":
		return PhaseLockRecyclerName
	case "gerchberg_saxton_roi", "gerchbergsaxtonroi", "gs":
		return GerchbergSaxtonROIName
	}
	return n
}

type staticMask struct{}

func (staticMask) Name() string { return OpenLoopName }

func (staticMask) Reset() {}

func (staticMask) Update(int, *MaskState) float64 { return 0 }

func resetRegistryForTests() {
	controllerRegistry.mu.Lock()
	controllerRegistry.m = make(map[string]ControllerSpec)
	controllerRegistry.mu.Unlock()

	initializeDefaultControllers()
}
