package engine

import (
	"fmt"
	"math"

	"github.com/psantana5/kappa-rpc/pkg/models"
)

// Normalize applies defaults to unset fields and rejects values no backend
// can be given. Zero time limit and zero sample points mean "default".
func Normalize(req models.SimulationRequest) (models.SimulationRequest, error) {
	out := req

	switch {
	case math.IsNaN(req.TimeLimit) || math.IsInf(req.TimeLimit, 0):
		return out, fmt.Errorf("%w: time_limit must be a finite number, got %v", ErrInvalidRequest, req.TimeLimit)
	case req.TimeLimit < 0:
		return out, fmt.Errorf("%w: time_limit must be positive, got %v", ErrInvalidRequest, req.TimeLimit)
	case req.TimeLimit == 0:
		out.TimeLimit = models.DefaultTimeLimit
	}

	switch {
	case req.SamplePoints < 0:
		return out, fmt.Errorf("%w: sample_points must be at least 1, got %d", ErrInvalidRequest, req.SamplePoints)
	case req.SamplePoints == 0:
		out.SamplePoints = models.DefaultSamplePoints
	}

	if req.Seed != nil && *req.Seed < 0 {
		return out, fmt.Errorf("%w: seed must be non-negative, got %d", ErrInvalidRequest, *req.Seed)
	}

	return out, nil
}
