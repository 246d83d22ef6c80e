package types

import "errors"

var (
	errEmptySteps  = errors.New("steps must be a non-empty list")
	errStepName    = errors.New("step name is required")
	errStepCommand = errors.New("step command is required")
	errStepNetwork = errors.New(`step network must be "none" or "egress"`)
)
