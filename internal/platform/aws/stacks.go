package aws

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
)

const serviceCloudFormation = "cloudformation"

type cloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// Stacks implements platform.StackClient on CloudFormation.
type Stacks struct {
	api          cloudFormationAPI
	capabilities []cftypes.Capability
}

var _ platform.StackClient = (*Stacks)(nil)

// NewStacks wraps a CloudFormation client. Stacks are created with IAM and
// auto-expand capabilities since the hosting template declares roles and macros.
func NewStacks(api cloudFormationAPI) *Stacks {
	return &Stacks{
		api: api,
		capabilities: []cftypes.Capability{
			cftypes.CapabilityCapabilityIam,
			cftypes.CapabilityCapabilityAutoExpand,
		},
	}
}

// Describe returns the current stack state. A missing stack yields platform.ErrNotFound.
func (s *Stacks) Describe(ctx context.Context, name string) (domain.Deployment, error) {
	out, err := s.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if isStackMissing(err) {
			return domain.Deployment{}, opError(serviceCloudFormation, "DescribeStacks", platform.ErrNotFound, err)
		}
		return domain.Deployment{}, opError(serviceCloudFormation, "DescribeStacks", nil, err)
	}
	if len(out.Stacks) == 0 {
		return domain.Deployment{}, opError(serviceCloudFormation, "DescribeStacks", platform.ErrNotFound, errors.New("stack "+name+" not returned"))
	}
	return deploymentFromStack(name, out.Stacks[0]), nil
}

// Create submits a new stack from template with params.
func (s *Stacks) Create(ctx context.Context, name, template string, params map[string]string) error {
	_, err := s.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(name),
		TemplateURL:  aws.String(template),
		Parameters:   stackParameters(params),
		Capabilities: s.capabilities,
	})
	if err == nil {
		return nil
	}
	var exists *cftypes.AlreadyExistsException
	if errors.As(err, &exists) {
		return opError(serviceCloudFormation, "CreateStack", platform.ErrAlreadyExists, err)
	}
	if code, _, ok := apiErrorCode(err); ok && code == "AlreadyExistsException" {
		return opError(serviceCloudFormation, "CreateStack", platform.ErrAlreadyExists, err)
	}
	return opError(serviceCloudFormation, "CreateStack", nil, err)
}

// Update changes stack parameters in place.
func (s *Stacks) Update(ctx context.Context, name string, in platform.UpdateInput) error {
	input := &cloudformation.UpdateStackInput{
		StackName:    aws.String(name),
		Parameters:   stackParameters(in.Parameters),
		Capabilities: s.capabilities,
	}
	if in.UsePreviousTemplate {
		input.UsePreviousTemplate = aws.Bool(true)
	} else {
		input.TemplateURL = aws.String(in.Template)
	}
	_, err := s.api.UpdateStack(ctx, input)
	switch {
	case err == nil:
		return nil
	case isNoUpdates(err):
		return opError(serviceCloudFormation, "UpdateStack", platform.ErrNoUpdates, err)
	case isStackMissing(err):
		return opError(serviceCloudFormation, "UpdateStack", platform.ErrNotFound, err)
	default:
		return opError(serviceCloudFormation, "UpdateStack", nil, err)
	}
}

// Delete requests stack deletion. Deleting a missing stack succeeds on the platform side.
func (s *Stacks) Delete(ctx context.Context, name string) error {
	if _, err := s.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(name)}); err != nil {
		return opError(serviceCloudFormation, "DeleteStack", nil, err)
	}
	return nil
}

func stackParameters(params map[string]string) []cftypes.Parameter {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cftypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cftypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}

func deploymentFromStack(name string, stack cftypes.Stack) domain.Deployment {
	raw := string(stack.StackStatus)
	d := domain.Deployment{
		Name:           name,
		Status:         stackStatus(raw),
		StatusReason:   aws.ToString(stack.StackStatusReason),
		PlatformStatus: raw,
		DeleteFailed:   raw == "DELETE_FAILED",
		Parameters:     make(map[string]string, len(stack.Parameters)),
		Outputs:        make(map[string]string, len(stack.Outputs)),
	}
	for _, p := range stack.Parameters {
		d.Parameters[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	for _, o := range stack.Outputs {
		d.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	switch {
	case stack.LastUpdatedTime != nil:
		d.UpdatedAt = *stack.LastUpdatedTime
	case stack.CreationTime != nil:
		d.UpdatedAt = *stack.CreationTime
	}
	return d
}

// stackStatus folds CloudFormation's stack states onto the deployment lifecycle.
// UPDATE_ROLLBACK_COMPLETE is live: the stack serves its previous configuration
// and accepts further updates.
func stackStatus(raw string) domain.DeploymentStatus {
	switch raw {
	case "CREATE_COMPLETE", "UPDATE_COMPLETE", "UPDATE_ROLLBACK_COMPLETE", "IMPORT_COMPLETE", "IMPORT_ROLLBACK_COMPLETE":
		return domain.DeploymentLive
	case "CREATE_IN_PROGRESS", "REVIEW_IN_PROGRESS", "IMPORT_IN_PROGRESS":
		return domain.DeploymentCreating
	case "UPDATE_IN_PROGRESS", "UPDATE_COMPLETE_CLEANUP_IN_PROGRESS", "UPDATE_ROLLBACK_IN_PROGRESS",
		"UPDATE_ROLLBACK_COMPLETE_CLEANUP_IN_PROGRESS", "ROLLBACK_IN_PROGRESS", "IMPORT_ROLLBACK_IN_PROGRESS":
		return domain.DeploymentUpdating
	case "DELETE_IN_PROGRESS":
		return domain.DeploymentDeleting
	case "DELETE_COMPLETE":
		return domain.DeploymentAbsent
	case "CREATE_FAILED", "ROLLBACK_COMPLETE", "ROLLBACK_FAILED", "UPDATE_FAILED", "UPDATE_ROLLBACK_FAILED",
		"DELETE_FAILED", "IMPORT_ROLLBACK_FAILED":
		return domain.DeploymentFailed
	default:
		return domain.DeploymentUpdating
	}
}

func isStackMissing(err error) bool {
	code, msg, ok := apiErrorCode(err)
	return ok && code == "ValidationError" && strings.Contains(msg, "does not exist")
}

func isNoUpdates(err error) bool {
	code, msg, ok := apiErrorCode(err)
	return ok && code == "ValidationError" && strings.Contains(msg, "No updates are to be performed")
}
