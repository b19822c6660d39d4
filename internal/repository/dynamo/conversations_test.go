package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/repository"
)

type fakeDynamo struct {
	puts    []map[string]types.AttributeValue
	pages   []*dynamodb.QueryOutput
	queries []*dynamodb.QueryInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func TestAppendMessagesWritesTableShape(t *testing.T) {
	api := &fakeDynamo{}
	store := NewConversations(api, "ConversationHistory")
	err := store.AppendMessages(context.Background(), []domain.ConversationRecord{
		{SessionID: "s-1", Timestamp: 1000, Message: domain.Message{Role: "user", Content: "hi"}},
		{SessionID: "s-1", Timestamp: 1001, Message: domain.Message{Role: "assistant", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("AppendMessages error: %v", err)
	}
	if len(api.puts) != 2 {
		t.Fatalf("expected 2 puts, got %d", len(api.puts))
	}
	item := api.puts[0]
	if sid, ok := item["session_id"].(*types.AttributeValueMemberS); !ok || sid.Value != "s-1" {
		t.Fatalf("unexpected session_id attribute: %#v", item["session_id"])
	}
	if ts, ok := item["timestamp"].(*types.AttributeValueMemberN); !ok || ts.Value != "1000" {
		t.Fatalf("unexpected timestamp attribute: %#v", item["timestamp"])
	}
	msg, ok := item["message"].(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("expected message map, got %#v", item["message"])
	}
	if role, ok := msg.Value["role"].(*types.AttributeValueMemberS); !ok || role.Value != "user" {
		t.Fatalf("unexpected role attribute: %#v", msg.Value["role"])
	}
}

func TestAppendMessagesRequiresSession(t *testing.T) {
	store := NewConversations(&fakeDynamo{}, "t")
	err := store.AppendMessages(context.Background(), []domain.ConversationRecord{{Timestamp: 1}})
	if !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestListMessagesFollowsPages(t *testing.T) {
	record := func(ts, role, content string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: "s-1"},
			"timestamp":  &types.AttributeValueMemberN{Value: ts},
			"message": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				"role":    &types.AttributeValueMemberS{Value: role},
				"content": &types.AttributeValueMemberS{Value: content},
			}},
		}
	}
	api := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{record("1000", "user", "hi")},
			LastEvaluatedKey: map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: "s-1"}},
		},
		{Items: []map[string]types.AttributeValue{record("1001", "assistant", "hello")}},
	}}
	records, err := NewConversations(api, "ConversationHistory").ListMessages(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("ListMessages error: %v", err)
	}
	if len(records) != 2 || records[1].Timestamp != 1001 || records[1].Message.Content != "hello" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if len(api.queries) != 2 || api.queries[1].ExclusiveStartKey == nil {
		t.Fatalf("expected second query to continue from last key, got %d queries", len(api.queries))
	}
}
