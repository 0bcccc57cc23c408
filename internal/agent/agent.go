package agent

// Agent is a steppable, resettable participant of a closed-loop simulation.
//
// Reset may be called any number of times and always returns the initial
// observation. Step advances exactly one tick; it may read in but must not
// mutate it.
type Agent interface {
	Reset() (any, error)
	Step(in Observable) (StepResult, error)
}

// StepResult is the outcome of a single Step call.
type StepResult struct {
	Observation any
	Reward      float64
	// Done reports the agent has nothing further to produce. Calling Step
	// again is allowed; what it returns is up to the agent.
	Done bool
	Info map[string]any
}

// Phase is the lifecycle position of an agent or orchestrator.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Done
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Func is an Agent assembled from a reset function and a step function.
// Its steps never report reward or completion.
type Func struct {
	ResetFn func() (any, error)
	StepFn  func(in Observable) (any, error)
}

func (f *Func) Reset() (any, error) {
	if f.ResetFn == nil {
		return nil, nil
	}
	return f.ResetFn()
}

func (f *Func) Step(in Observable) (StepResult, error) {
	if f.StepFn == nil {
		return StepResult{}, nil
	}
	out, err := f.StepFn(in)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Observation: out}, nil
}

// Constantly returns an agent that publishes v on reset and on every step.
func Constantly(v any) *Func {
	return &Func{
		ResetFn: func() (any, error) { return v, nil },
		StepFn:  func(Observable) (any, error) { return v, nil },
	}
}
