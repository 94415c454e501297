package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"relocation-assistant/internal/domain"
)

// maxTransactItems is DynamoDB's per-transaction item limit.
const maxTransactItems = 100

// AppendTurns writes one turn with PutItem and several in one transaction.
func (c *Client) AppendTurns(ctx context.Context, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if len(turns) > maxTransactItems {
		return storageErr("AppendTurns", fmt.Errorf("%d turns exceed the transaction limit", len(turns)))
	}
	items := make([]map[string]types.AttributeValue, 0, len(turns))
	for _, t := range turns {
		if t.ConversationID == "" {
			return storageErr("AppendTurns", errors.New("conversation id is required"))
		}
		if !t.Role.Valid() {
			return storageErr("AppendTurns", fmt.Errorf("invalid role %q", t.Role))
		}
		items = append(items, c.turnItem(t))
	}

	cond := aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)")
	if len(items) == 1 {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                items[0],
			ConditionExpression: cond,
		})
		if err != nil {
			return storageErr("AppendTurns", err)
		}
		return nil
	}

	tx := make([]types.TransactWriteItem, 0, len(items))
	for _, item := range items {
		tx = append(tx, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                item,
			ConditionExpression: cond,
		}})
	}
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		return storageErr("AppendTurns", err)
	}
	return nil
}

// RecentTurns reads the newest limit turns and returns them oldest first.
func (c *Client) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strVal(convPK(conversationID)),
			":prefix": strVal(skPrefixMsg),
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, storageErr("RecentTurns", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(conversationID, item)
		if err != nil {
			return nil, storageErr("RecentTurns", err)
		}
		turns = append(turns, t)
		if len(turns) == limit {
			break
		}
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (c *Client) turnItem(t domain.Turn) map[string]types.AttributeValue {
	created := t.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	return map[string]types.AttributeValue{
		"PK":             strVal(convPK(t.ConversationID)),
		"SK":             strVal(msgSK(created, c.newID())),
		"conversationId": strVal(t.ConversationID),
		"role":           strVal(string(t.Role)),
		"content":        strVal(t.Content),
		"createdAt":      strVal(created.UTC().Format(time.RFC3339Nano)),
		"ttl":            numVal(c.ttlValue()),
	}
}

func itemToTurn(conversationID string, item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{
		ConversationID: conversationID,
		Role:           domain.Role(role),
		Content:        content,
		CreatedAt:      created,
	}, nil
}
