package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"relocation-assistant/internal/domain"
)

const (
	maxBatchWrite       = 25
	maxUnprocessedTries = 3
)

// PutDigest appends a digest row. Rows are never overwritten.
func (c *Client) PutDigest(ctx context.Context, d domain.CachedDigest) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        strVal(digestPK(d.Language)),
			"SK":        strVal(digestSK(d.CreatedAt)),
			"language":  strVal(string(d.Language)),
			"content":   strVal(d.Content),
			"createdAt": strVal(d.CreatedAt.UTC().Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		return storageErr("PutDigest", err)
	}
	return nil
}

// LatestDigest reads the newest row for lang.
func (c *Client) LatestDigest(ctx context.Context, lang domain.Language) (domain.CachedDigest, bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strVal(digestPK(lang)),
			":prefix": strVal(skPrefixAt),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.CachedDigest{}, false, storageErr("LatestDigest", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.CachedDigest{}, false, nil
	}
	item := out.Items[0]
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.CachedDigest{}, false, storageErr("LatestDigest", err)
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.CachedDigest{}, false, storageErr("LatestDigest", err)
	}
	return domain.CachedDigest{Language: lang, Content: content, CreatedAt: created}, true, nil
}

// DeleteDigests removes every digest row for langs (all languages when empty).
func (c *Client) DeleteDigests(ctx context.Context, langs ...domain.Language) (int, error) {
	var keys []map[string]types.AttributeValue
	for _, lang := range languagesOrAll(langs) {
		langKeys, err := c.digestKeys(ctx, lang)
		if err != nil {
			return 0, storageErr("DeleteDigests", err)
		}
		keys = append(keys, langKeys...)
	}

	deleted := 0
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.batchDelete(ctx, keys[start:end]); err != nil {
			return deleted, storageErr("DeleteDigests", err)
		}
		deleted += end - start
	}
	return deleted, nil
}

func (c *Client) digestKeys(ctx context.Context, lang domain.Language) ([]map[string]types.AttributeValue, error) {
	var (
		keys  []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": strVal(digestPK(lang)),
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return nil, fmt.Errorf("query %s digests: %w", lang, err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (c *Client) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}
	pending := map[string][]types.WriteRequest{c.tableName: requests}
	for try := 0; try < maxUnprocessedTries; try++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
		if out == nil || len(out.UnprocessedItems) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("batch delete: %d requests left unprocessed", len(pending[c.tableName]))
}
