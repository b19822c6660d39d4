// Package validate checks JSONL fine-tuning data before a job is launched.
package validate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
)

const maxReportedErrors = 10

// ErrInvalidRequest indicates the object reference is incomplete.
var ErrInvalidRequest = errors.New("validate: bucket and key are required")

// ObjectRef names the training data object.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Service validates training data stored in an object store.
type Service struct {
	objects platform.ObjectStore
	logger  *slog.Logger
}

// New returns a validator.
func New(objects platform.ObjectStore, logger *slog.Logger) Service {
	return Service{objects: objects, logger: logger}
}

// Validate streams the object and checks every line. Read failures are returned as
// errors; data problems are returned in the report.
func (s Service) Validate(ctx context.Context, ref ObjectRef) (domain.ValidationReport, error) {
	if strings.TrimSpace(ref.Bucket) == "" || strings.TrimSpace(ref.Key) == "" {
		return domain.ValidationReport{}, ErrInvalidRequest
	}
	body, err := s.objects.Open(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	defer body.Close()

	report, err := Check(body)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("read s3://%s/%s: %w", ref.Bucket, ref.Key, err)
	}
	s.logger.Info("training data validated",
		"bucket", ref.Bucket,
		"key", ref.Key,
		"valid", report.Valid,
		"valid_lines", report.ValidLines,
		"errors", report.TotalErrors,
	)
	return report, nil
}

// Check validates JSONL from r. Every non-blank line must be a JSON object with
// "prompt" and "completion" keys. Line numbers count blank lines too.
func Check(r io.Reader) (domain.ValidationReport, error) {
	reader := bufio.NewReader(r)
	var (
		report domain.ValidationReport
		lineNo int
	)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if msg := checkLine(bytes.TrimSpace(line)); msg != "" {
				report.TotalErrors++
				if len(report.Errors) < maxReportedErrors {
					report.Errors = append(report.Errors, fmt.Sprintf("Line %d: %s", lineNo, msg))
				}
			} else if len(bytes.TrimSpace(line)) > 0 {
				report.ValidLines++
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return domain.ValidationReport{}, readErr
		}
	}

	report.Valid = report.TotalErrors == 0
	if report.Valid {
		report.Message = fmt.Sprintf("All %d lines validated successfully", report.ValidLines)
	} else {
		report.Message = fmt.Sprintf("%d of %d lines failed validation", report.TotalErrors, report.TotalErrors+report.ValidLines)
	}
	return report, nil
}

func checkLine(line []byte) string {
	if len(line) == 0 {
		return ""
	}
	var record map[string]json.RawMessage
	if err := json.Unmarshal(line, &record); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return "Invalid JSON - line is not a JSON object"
		}
		return "Invalid JSON - " + err.Error()
	}
	if _, ok := record["prompt"]; !ok {
		return "Missing required fields"
	}
	if _, ok := record["completion"]; !ok {
		return "Missing required fields"
	}
	return ""
}
