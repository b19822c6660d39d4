package domain

// Prompt result statuses.
const (
	PromptSuccess = "success"
	PromptError   = "error"
)

// PromptResult is the outcome of one evaluation prompt.
type PromptResult struct {
	Prompt   string  `json:"prompt"`
	Response *string `json:"response"`
	Relevant bool    `json:"relevant"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
}

// EvaluationResult summarizes a prompt battery run against a model.
type EvaluationResult struct {
	ModelID string         `json:"modelId"`
	Passed  bool           `json:"passed"`
	Score   string         `json:"score"`
	Results []PromptResult `json:"results"`
}

// ValidationReport summarizes a training data check.
type ValidationReport struct {
	Valid       bool     `json:"valid"`
	ValidLines  int      `json:"validLines"`
	Errors      []string `json:"errors,omitempty"`
	TotalErrors int      `json:"totalErrors"`
	Message     string   `json:"message,omitempty"`
}
