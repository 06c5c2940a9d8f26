// Package plan turns free-text plans into phased execution plans and runs
// them through the tool loop.
package plan

// Status is the lifecycle state of a step or phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step is a single unit of work inside a phase.
type Step struct {
	Description string   `json:"description"`
	Validation  string   `json:"validation,omitempty"`
	ToolsNeeded []string `json:"tools_needed"`
	Status      Status   `json:"status"`
	Result      string   `json:"result,omitempty"`
}

// Phase is an ordered group of steps. Steps of a parallel phase run
// concurrently; phases themselves always run in order.
type Phase struct {
	Name     string  `json:"name"`
	Parallel bool    `json:"parallel"`
	Steps    []*Step `json:"steps"`
	Status   Status  `json:"status"`
}

// ExecutionPlan is a titled, ordered list of phases.
type ExecutionPlan struct {
	Title  string   `json:"title"`
	Phases []*Phase `json:"phases"`
}

// TotalSteps counts every step in the plan.
func (p *ExecutionPlan) TotalSteps() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Steps)
	}
	return n
}

// CompletedSteps counts the steps that finished successfully.
func (p *ExecutionPlan) CompletedSteps() int {
	n := 0
	for _, ph := range p.Phases {
		for _, s := range ph.Steps {
			if s.Status == StatusCompleted {
				n++
			}
		}
	}
	return n
}

// NewStep returns a pending step.
func NewStep(description string) *Step {
	return &Step{Description: description, ToolsNeeded: []string{}, Status: StatusPending}
}
