package aws

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/evanshlom/AwsAiProd/internal/platform"
)

const serviceS3 = "s3"

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Objects implements platform.ObjectStore on S3.
type Objects struct {
	api s3API
}

var _ platform.ObjectStore = (*Objects)(nil)

func NewObjects(api s3API) *Objects {
	return &Objects{api: api}
}

// Open streams the object body. The caller closes it.
func (o *Objects) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		var noBucket *s3types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, opError(serviceS3, "GetObject", platform.ErrNotFound, err)
		}
		return nil, opError(serviceS3, "GetObject", nil, err)
	}
	return out.Body, nil
}
