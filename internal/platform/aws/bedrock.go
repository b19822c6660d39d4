package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/evanshlom/AwsAiProd/internal/platform"
)

const (
	serviceBedrock        = "bedrock"
	serviceBedrockRuntime = "bedrock-runtime"
)

type bedrockAPI interface {
	CreateModelCustomizationJob(ctx context.Context, params *bedrock.CreateModelCustomizationJobInput, optFns ...func(*bedrock.Options)) (*bedrock.CreateModelCustomizationJobOutput, error)
	GetModelCustomizationJob(ctx context.Context, params *bedrock.GetModelCustomizationJobInput, optFns ...func(*bedrock.Options)) (*bedrock.GetModelCustomizationJobOutput, error)
}

// Customizations implements platform.CustomizationClient on Bedrock.
type Customizations struct {
	api bedrockAPI
}

var _ platform.CustomizationClient = (*Customizations)(nil)

// NewCustomizations wraps a Bedrock control-plane client.
func NewCustomizations(api bedrockAPI) *Customizations {
	return &Customizations{api: api}
}

// CreateJob submits a fine-tuning job and returns its ARN.
func (c *Customizations) CreateJob(ctx context.Context, in platform.CustomizationJobInput) (string, error) {
	input := &bedrock.CreateModelCustomizationJobInput{
		JobName:             aws.String(in.JobName),
		CustomModelName:     aws.String(in.CustomModelName),
		BaseModelIdentifier: aws.String(in.BaseModelID),
		RoleArn:             aws.String(in.RoleARN),
		CustomizationType:   bedrocktypes.CustomizationTypeFineTuning,
		TrainingDataConfig:  &bedrocktypes.TrainingDataConfig{S3Uri: aws.String(in.TrainingDataURI)},
		OutputDataConfig:    &bedrocktypes.OutputDataConfig{S3Uri: aws.String(in.OutputDataURI)},
		HyperParameters:     in.HyperParameters,
	}
	if in.ValidationDataURI != "" {
		input.ValidationDataConfig = &bedrocktypes.ValidationDataConfig{
			Validators: []bedrocktypes.Validator{{S3Uri: aws.String(in.ValidationDataURI)}},
		}
	}
	out, err := c.api.CreateModelCustomizationJob(ctx, input)
	if err != nil {
		return "", opError(serviceBedrock, "CreateModelCustomizationJob", nil, err)
	}
	return aws.ToString(out.JobArn), nil
}

// GetJob reads the job state. Unknown jobs yield platform.ErrNotFound.
func (c *Customizations) GetJob(ctx context.Context, jobIdentifier string) (platform.CustomizationJobState, error) {
	out, err := c.api.GetModelCustomizationJob(ctx, &bedrock.GetModelCustomizationJobInput{
		JobIdentifier: aws.String(jobIdentifier),
	})
	if err != nil {
		var missing *bedrocktypes.ResourceNotFoundException
		if errors.As(err, &missing) {
			return platform.CustomizationJobState{}, opError(serviceBedrock, "GetModelCustomizationJob", platform.ErrNotFound, err)
		}
		if code, _, ok := apiErrorCode(err); ok && code == "ResourceNotFoundException" {
			return platform.CustomizationJobState{}, opError(serviceBedrock, "GetModelCustomizationJob", platform.ErrNotFound, err)
		}
		return platform.CustomizationJobState{}, opError(serviceBedrock, "GetModelCustomizationJob", nil, err)
	}
	return platform.CustomizationJobState{
		Status:         string(out.Status),
		OutputModelArn: aws.ToString(out.OutputModelArn),
		FailureMessage: aws.ToString(out.FailureMessage),
	}, nil
}

type bedrockRuntimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// TitanInvoker implements platform.ModelInvoker for the Amazon Titan text family,
// which takes one free-text prompt and returns generated text.
type TitanInvoker struct {
	api bedrockRuntimeAPI
}

var _ platform.ModelInvoker = (*TitanInvoker)(nil)

// NewTitanInvoker wraps a Bedrock runtime client.
func NewTitanInvoker(api bedrockRuntimeAPI) *TitanInvoker {
	return &TitanInvoker{api: api}
}

type titanRequest struct {
	InputText            string                `json:"inputText"`
	TextGenerationConfig titanGenerationConfig `json:"textGenerationConfig"`
}

type titanGenerationConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"topP,omitempty"`
}

type titanResponse struct {
	Results []struct {
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

// Invoke renders req as a Titan request body and returns the first result's text.
func (t *TitanInvoker) Invoke(ctx context.Context, modelID string, req platform.InvokeRequest) (string, error) {
	body, err := encodeTitanRequest(req)
	if err != nil {
		return "", err
	}
	out, err := t.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", opError(serviceBedrockRuntime, "InvokeModel", nil, err)
	}
	return decodeTitanResponse(out.Body)
}

func encodeTitanRequest(req platform.InvokeRequest) ([]byte, error) {
	payload := titanRequest{
		InputText: req.Prompt,
		TextGenerationConfig: titanGenerationConfig{
			MaxTokenCount: req.MaxTokens,
			Temperature:   req.Temperature,
			TopP:          req.TopP,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode titan request: %w", err)
	}
	return body, nil
}

func decodeTitanResponse(body []byte) (string, error) {
	var resp titanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode titan response: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", errors.New("decode titan response: no results")
	}
	return strings.TrimSpace(resp.Results[0].OutputText), nil
}
