package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
)

type fakeCloudFormation struct {
	describeOut *cloudformation.DescribeStacksOutput
	describeErr error
	createIn    *cloudformation.CreateStackInput
	createErr   error
	updateIn    *cloudformation.UpdateStackInput
	updateErr   error
}

func (f *fakeCloudFormation) DescribeStacks(_ context.Context, _ *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return f.describeOut, f.describeErr
}

func (f *fakeCloudFormation) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createIn = in
	return &cloudformation.CreateStackOutput{}, f.createErr
}

func (f *fakeCloudFormation) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updateIn = in
	return &cloudformation.UpdateStackOutput{}, f.updateErr
}

func (f *fakeCloudFormation) DeleteStack(_ context.Context, _ *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	return &cloudformation.DeleteStackOutput{}, nil
}

func TestStackStatusMapping(t *testing.T) {
	cases := map[string]domain.DeploymentStatus{
		"CREATE_COMPLETE":          domain.DeploymentLive,
		"UPDATE_ROLLBACK_COMPLETE": domain.DeploymentLive,
		"CREATE_IN_PROGRESS":       domain.DeploymentCreating,
		"UPDATE_IN_PROGRESS":       domain.DeploymentUpdating,
		"DELETE_IN_PROGRESS":       domain.DeploymentDeleting,
		"DELETE_COMPLETE":          domain.DeploymentAbsent,
		"ROLLBACK_COMPLETE":        domain.DeploymentFailed,
		"DELETE_FAILED":            domain.DeploymentFailed,
	}
	for raw, want := range cases {
		if got := stackStatus(raw); got != want {
			t.Fatalf("stackStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestDescribeMissingStackIsNotFound(t *testing.T) {
	api := &fakeCloudFormation{describeErr: &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "Stack with id llm-chat-stack does not exist",
	}}
	_, err := NewStacks(api).Describe(context.Background(), "llm-chat-stack")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var opErr *platform.OpError
	if !errors.As(err, &opErr) || opErr.Op != "DescribeStacks" {
		t.Fatalf("expected OpError for DescribeStacks, got %v", err)
	}
}

func TestDescribeMapsParametersAndOutputs(t *testing.T) {
	api := &fakeCloudFormation{describeOut: &cloudformation.DescribeStacksOutput{
		Stacks: []cftypes.Stack{{
			StackName:   aws.String("llm-chat-stack"),
			StackStatus: cftypes.StackStatusUpdateComplete,
			Parameters: []cftypes.Parameter{
				{ParameterKey: aws.String("ModelId"), ParameterValue: aws.String("m-1")},
			},
			Outputs: []cftypes.Output{
				{OutputKey: aws.String("ApiEndpoint"), OutputValue: aws.String("https://example.test")},
			},
		}},
	}}
	d, err := NewStacks(api).Describe(context.Background(), "llm-chat-stack")
	if err != nil {
		t.Fatalf("Describe error: %v", err)
	}
	if d.Status != domain.DeploymentLive || d.PlatformStatus != "UPDATE_COMPLETE" {
		t.Fatalf("unexpected status: %+v", d)
	}
	if d.Parameters["ModelId"] != "m-1" || d.Outputs["ApiEndpoint"] != "https://example.test" {
		t.Fatalf("unexpected params/outputs: %+v", d)
	}
	if d.DeleteFailed {
		t.Fatalf("live stack flagged as failed deletion: %+v", d)
	}
}

func TestDescribeFlagsFailedDeletion(t *testing.T) {
	api := &fakeCloudFormation{describeOut: &cloudformation.DescribeStacksOutput{
		Stacks: []cftypes.Stack{{
			StackName:         aws.String("llm-chat-stack"),
			StackStatus:       cftypes.StackStatusDeleteFailed,
			StackStatusReason: aws.String("bucket not empty"),
		}},
	}}
	d, err := NewStacks(api).Describe(context.Background(), "llm-chat-stack")
	if err != nil {
		t.Fatalf("Describe error: %v", err)
	}
	if d.Status != domain.DeploymentFailed || !d.DeleteFailed || d.StatusReason != "bucket not empty" {
		t.Fatalf("unexpected deployment: %+v", d)
	}
}

func TestCreateAlreadyExists(t *testing.T) {
	api := &fakeCloudFormation{createErr: &cftypes.AlreadyExistsException{Message: aws.String("exists")}}
	err := NewStacks(api).Create(context.Background(), "s", "https://t", map[string]string{"ModelId": "m"})
	if !errors.Is(err, platform.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if len(api.createIn.Capabilities) != 2 {
		t.Fatalf("expected IAM and auto-expand capabilities, got %v", api.createIn.Capabilities)
	}
}

func TestUpdateNoUpdatesAndPreviousTemplate(t *testing.T) {
	api := &fakeCloudFormation{updateErr: &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "No updates are to be performed.",
	}}
	err := NewStacks(api).Update(context.Background(), "s", platform.UpdateInput{
		UsePreviousTemplate: true,
		Parameters:          map[string]string{"ModelId": "m"},
	})
	if !errors.Is(err, platform.ErrNoUpdates) {
		t.Fatalf("expected ErrNoUpdates, got %v", err)
	}
	if api.updateIn.TemplateURL != nil || !aws.ToBool(api.updateIn.UsePreviousTemplate) {
		t.Fatalf("expected previous template reuse, got %+v", api.updateIn)
	}
}

func TestStackParametersSorted(t *testing.T) {
	params := stackParameters(map[string]string{"b": "2", "a": "1"})
	if len(params) != 2 || aws.ToString(params[0].ParameterKey) != "a" {
		t.Fatalf("unexpected parameter order: %+v", params)
	}
}

type fakeBedrock struct {
	createIn *bedrock.CreateModelCustomizationJobInput
	getOut   *bedrock.GetModelCustomizationJobOutput
	getErr   error
}

func (f *fakeBedrock) CreateModelCustomizationJob(_ context.Context, in *bedrock.CreateModelCustomizationJobInput, _ ...func(*bedrock.Options)) (*bedrock.CreateModelCustomizationJobOutput, error) {
	f.createIn = in
	return &bedrock.CreateModelCustomizationJobOutput{JobArn: aws.String("arn:aws:bedrock:us-east-1:1:model-customization-job/abc")}, nil
}

func (f *fakeBedrock) GetModelCustomizationJob(_ context.Context, _ *bedrock.GetModelCustomizationJobInput, _ ...func(*bedrock.Options)) (*bedrock.GetModelCustomizationJobOutput, error) {
	return f.getOut, f.getErr
}

func TestCreateJobBuildsFineTuningRequest(t *testing.T) {
	api := &fakeBedrock{}
	arn, err := NewCustomizations(api).CreateJob(context.Background(), platform.CustomizationJobInput{
		JobName:           "llm-tune-1",
		CustomModelName:   "model-1",
		BaseModelID:       "amazon.titan-text-express-v1",
		RoleARN:           "arn:aws:iam::1:role/BedrockFineTuningRole",
		TrainingDataURI:   "s3://b/train.jsonl",
		ValidationDataURI: "s3://b/eval.jsonl",
		OutputDataURI:     "s3://b/output/",
		HyperParameters:   map[string]string{"epochCount": "3"},
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if arn == "" {
		t.Fatal("expected job arn")
	}
	if api.createIn.CustomizationType != bedrocktypes.CustomizationTypeFineTuning {
		t.Fatalf("unexpected customization type %q", api.createIn.CustomizationType)
	}
	if api.createIn.ValidationDataConfig == nil || len(api.createIn.ValidationDataConfig.Validators) != 1 {
		t.Fatalf("expected one validator, got %+v", api.createIn.ValidationDataConfig)
	}
}

func TestGetJobNotFound(t *testing.T) {
	api := &fakeBedrock{getErr: &bedrocktypes.ResourceNotFoundException{Message: aws.String("missing")}}
	_, err := NewCustomizations(api).GetJob(context.Background(), "nope")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeRuntime struct {
	body []byte
	in   *bedrockruntime.InvokeModelInput
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.in = in
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestTitanInvokeEncodesBodyAndReadsFirstResult(t *testing.T) {
	api := &fakeRuntime{body: []byte(`{"results":[{"outputText":" hello there ","completionReason":"FINISH"}]}`)}
	out, err := NewTitanInvoker(api).Invoke(context.Background(), "model", platform.InvokeRequest{
		Prompt: "user: hi\nassistant:", MaxTokens: 512, Temperature: 0.7, TopP: 0.9,
	})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("unexpected output %q", out)
	}
	var sent map[string]any
	if err := json.Unmarshal(api.in.Body, &sent); err != nil {
		t.Fatalf("request body not json: %v", err)
	}
	cfg, _ := sent["textGenerationConfig"].(map[string]any)
	if sent["inputText"] != "user: hi\nassistant:" || cfg["maxTokenCount"] != float64(512) || cfg["topP"] != 0.9 {
		t.Fatalf("unexpected request body %s", api.in.Body)
	}
}

func TestTitanInvokeEmptyResults(t *testing.T) {
	api := &fakeRuntime{body: []byte(`{"results":[]}`)}
	if _, err := NewTitanInvoker(api).Invoke(context.Background(), "m", platform.InvokeRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error for empty results")
	}
}

type fakeS3 struct{ err error }

func (f fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, f.err
}

func TestOpenMissingObject(t *testing.T) {
	_, err := NewObjects(fakeS3{err: &s3types.NoSuchKey{}}).Open(context.Background(), "b", "k")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
