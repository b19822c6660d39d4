// Package platform declares the managed-cloud capabilities the handlers depend on.
// Concrete adapters live in platform/aws; tests substitute fakes.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/evanshlom/AwsAiProd/internal/domain"
)

var (
	// ErrNotFound indicates the platform does not know the named resource.
	ErrNotFound = errors.New("platform: not found")
	// ErrAlreadyExists indicates a create raced with an existing resource.
	ErrAlreadyExists = errors.New("platform: already exists")
	// ErrNoUpdates indicates an update carried no changes.
	ErrNoUpdates = errors.New("platform: no updates to perform")
)

// OpError carries a platform failure together with the operation that produced it.
// The platform message is kept verbatim.
type OpError struct {
	Service string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// UpdateInput describes an in-place deployment update.
type UpdateInput struct {
	// Template is ignored when UsePreviousTemplate is set.
	Template            string
	UsePreviousTemplate bool
	Parameters          map[string]string
}

// StackClient is the control plane for the hosting deployment.
type StackClient interface {
	Describe(ctx context.Context, name string) (domain.Deployment, error)
	Create(ctx context.Context, name, template string, params map[string]string) error
	Update(ctx context.Context, name string, in UpdateInput) error
	Delete(ctx context.Context, name string) error
}

// CustomizationJobInput is a fine-tuning job submission.
type CustomizationJobInput struct {
	JobName           string
	CustomModelName   string
	BaseModelID       string
	RoleARN           string
	TrainingDataURI   string
	ValidationDataURI string
	OutputDataURI     string
	HyperParameters   map[string]string
}

// CustomizationJobState is the raw job state reported by the platform.
type CustomizationJobState struct {
	Status         string
	OutputModelArn string
	FailureMessage string
}

// CustomizationClient submits and inspects model customization jobs.
type CustomizationClient interface {
	CreateJob(ctx context.Context, in CustomizationJobInput) (jobArn string, err error)
	GetJob(ctx context.Context, jobIdentifier string) (CustomizationJobState, error)
}

// InvokeRequest is a single text generation call.
type InvokeRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// ModelInvoker runs text generation against a model endpoint.
type ModelInvoker interface {
	Invoke(ctx context.Context, modelID string, req InvokeRequest) (string, error)
}

// ObjectStore reads objects by bucket and key.
type ObjectStore interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
