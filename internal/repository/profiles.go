package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"relocation-assistant/internal/domain"
)

// ErrProfileMissing is wrapped by profile updates that target an absent profile.
var ErrProfileMissing = errors.New("profile does not exist")

func profileKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strVal(convPK(conversationID)),
		"SK": strVal(skProfile),
	}
}

// GetProfile returns the profile for conversationID; ok is false when none exists.
func (c *Client) GetProfile(ctx context.Context, conversationID string) (domain.Profile, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            profileKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Profile{}, false, storageErr("GetProfile", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Profile{}, false, nil
	}
	p, err := itemToProfile(conversationID, out.Item)
	if err != nil {
		return domain.Profile{}, false, storageErr("GetProfile", err)
	}
	return p, true, nil
}

// CreateProfile inserts p unless a profile already exists, in which case the
// stored profile is returned unchanged.
func (c *Client) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now().UTC()
	}
	item := profileKey(p.ConversationID)
	item["conversationId"] = strVal(p.ConversationID)
	item["language"] = strVal(string(p.Language))
	item["requestCount"] = numVal(int64(p.RequestCount))
	item["isUnlimited"] = &types.AttributeValueMemberBOOL{Value: p.IsUnlimited}
	item["createdAt"] = strVal(p.CreatedAt.UTC().Format(time.RFC3339Nano))

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return p, nil
	}
	if !isConditionFailed(err) {
		return domain.Profile{}, storageErr("CreateProfile", err)
	}

	existing, ok, err := c.GetProfile(ctx, p.ConversationID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, storageErr("CreateProfile", errors.New("profile vanished after conflicting create"))
	}
	return existing, nil
}

func (c *Client) SetLanguage(ctx context.Context, conversationID string, lang domain.Language) error {
	return c.updateProfile(ctx, "SetLanguage", conversationID, "SET #lang = :lang",
		map[string]string{"#lang": "language"},
		map[string]types.AttributeValue{":lang": strVal(string(lang))})
}

func (c *Client) IncrementRequestCount(ctx context.Context, conversationID string) error {
	return c.updateProfile(ctx, "IncrementRequestCount", conversationID, "ADD requestCount :one",
		nil,
		map[string]types.AttributeValue{":one": numVal(1)})
}

func (c *Client) SetUnlimited(ctx context.Context, conversationID string, unlimited bool) error {
	return c.updateProfile(ctx, "SetUnlimited", conversationID, "SET isUnlimited = :u",
		nil,
		map[string]types.AttributeValue{":u": &types.AttributeValueMemberBOOL{Value: unlimited}})
}

// updateProfile applies expr to an existing profile only, so a stray update
// never creates a half-filled row.
func (c *Client) updateProfile(ctx context.Context, op, conversationID, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       profileKey(conversationID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return storageErr(op, ErrProfileMissing)
		}
		return storageErr(op, err)
	}
	return nil
}

func itemToProfile(conversationID string, item map[string]types.AttributeValue) (domain.Profile, error) {
	lang, err := strAttr(item, "language")
	if err != nil {
		return domain.Profile{}, err
	}
	count, err := intAttr(item, "requestCount")
	if err != nil {
		return domain.Profile{}, err
	}
	created, _ := timeAttr(item, "createdAt") // allow legacy rows without it
	return domain.Profile{
		ConversationID: conversationID,
		Language:       domain.Language(lang),
		RequestCount:   count,
		IsUnlimited:    boolAttr(item, "isUnlimited"),
		CreatedAt:      created,
	}, nil
}
