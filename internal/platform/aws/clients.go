// Package aws adapts the AWS SDK clients to the platform interfaces.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/evanshlom/AwsAiProd/internal/platform"
)

// Clients bundles the SDK clients built from one shared configuration.
type Clients struct {
	Config         aws.Config
	CloudFormation *cloudformation.Client
	Bedrock        *bedrock.Client
	Runtime        *bedrockruntime.Client
	S3             *s3.Client
	DynamoDB       *dynamodb.Client
}

// NewClients loads the default credential chain for region and builds every client.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	opts := make([]func(*awsconfig.LoadOptions) error, 0, 1)
	if strings.TrimSpace(region) != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Clients{
		Config:         cfg,
		CloudFormation: cloudformation.NewFromConfig(cfg),
		Bedrock:        bedrock.NewFromConfig(cfg),
		Runtime:        bedrockruntime.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
	}, nil
}

// apiErrorCode returns the service error code and message, if err is a smithy API error.
func apiErrorCode(err error) (string, string, bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "", "", false
	}
	return apiErr.ErrorCode(), apiErr.ErrorMessage(), true
}

// opError wraps err for the given service operation, optionally tagging it with a
// platform sentinel so callers can branch with errors.Is.
func opError(service, op string, sentinel, err error) error {
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &platform.OpError{Service: service, Op: op, Err: err}
}
