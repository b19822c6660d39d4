package domain

import "time"

// DeploymentStatus is the normalized lifecycle state of a hosting deployment.
type DeploymentStatus string

const (
	DeploymentAbsent   DeploymentStatus = "ABSENT"
	DeploymentCreating DeploymentStatus = "CREATING"
	DeploymentUpdating DeploymentStatus = "UPDATING"
	DeploymentLive     DeploymentStatus = "LIVE"
	DeploymentFailed   DeploymentStatus = "FAILED"
	DeploymentDeleting DeploymentStatus = "DELETING"
)

// Stable reports whether the status is terminal for an apply operation.
func (s DeploymentStatus) Stable() bool {
	return s == DeploymentLive || s == DeploymentFailed
}

// Transitional reports whether the platform is still working on the deployment.
func (s DeploymentStatus) Transitional() bool {
	switch s {
	case DeploymentCreating, DeploymentUpdating, DeploymentDeleting:
		return true
	}
	return false
}

// DeploymentMode hints how a reconcile was requested.
type DeploymentMode string

const (
	ModeDeploy      DeploymentMode = "DEPLOY"
	ModeUpdateModel DeploymentMode = "UPDATE_MODEL"
)

// ParseDeploymentMode accepts the canonical names plus the lower-case action names
// used by orchestrators ("deploy", "update").
func ParseDeploymentMode(raw string) (DeploymentMode, bool) {
	switch raw {
	case "", "deploy", string(ModeDeploy):
		return ModeDeploy, true
	case "update", "update_model", string(ModeUpdateModel):
		return ModeUpdateModel, true
	}
	return "", false
}

// Deployment is the named hosting stack serving the chat model.
type Deployment struct {
	Name           string
	Status         DeploymentStatus
	StatusReason   string
	PlatformStatus string
	// DeleteFailed marks a FAILED deployment whose last deletion attempt failed.
	DeleteFailed bool
	Template     string
	Parameters   map[string]string
	Outputs      map[string]string
	UpdatedAt    time.Time
}

// DeploymentEvent reports reconcile progress for a deployment.
type DeploymentEvent struct {
	Deployment string           `json:"deployment"`
	RunID      string           `json:"run_id,omitempty"`
	Phase      string           `json:"phase"`
	Status     DeploymentStatus `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
	At         time.Time        `json:"at"`
}

// Reconcile run statuses.
const (
	RunPending = "pending"
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// ReconcileRun is the audit record of a single reconcile invocation.
type ReconcileRun struct {
	ID             string
	DeploymentName string
	ModelID        string
	Mode           DeploymentMode
	Status         string
	Reason         string
	Error          string
	Outputs        map[string]string
	SelfHeals      int
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// ReconcileRunUpdate captures mutable fields of a run.
type ReconcileRunUpdate struct {
	RunID       string
	Status      string
	Reason      string
	Error       string
	Outputs     map[string]string
	SelfHeals   int
	CompletedAt *time.Time
}
