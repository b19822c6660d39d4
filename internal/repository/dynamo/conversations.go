// Package dynamo stores conversation history in a DynamoDB table keyed by
// session_id (hash) and timestamp in milliseconds (range).
package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/repository"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Conversations implements repository.ConversationRepository.
type Conversations struct {
	api   API
	table string
}

var _ repository.ConversationRepository = (*Conversations)(nil)

// NewConversations binds the store to table.
func NewConversations(api API, table string) *Conversations {
	return &Conversations{api: api, table: table}
}

// AppendMessages writes each record as its own item, in order.
func (c *Conversations) AppendMessages(ctx context.Context, records []domain.ConversationRecord) error {
	for _, rec := range records {
		if strings.TrimSpace(rec.SessionID) == "" {
			return repository.ErrInvalidArgument
		}
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return fmt.Errorf("marshal conversation record: %w", err)
		}
		if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.table),
			Item:      item,
		}); err != nil {
			return fmt.Errorf("put conversation record: %w", err)
		}
	}
	return nil
}

// ListMessages reads every page of the session in ascending timestamp order.
func (c *Conversations) ListMessages(ctx context.Context, sessionID string) ([]domain.ConversationRecord, error) {
	pager := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("session_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		ScanIndexForward: aws.Bool(true),
	})

	records := make([]domain.ConversationRecord, 0)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query conversation: %w", err)
		}
		var batch []domain.ConversationRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal conversation: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}
