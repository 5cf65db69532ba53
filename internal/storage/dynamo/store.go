// Package dynamo stores command routes and approval claims in DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
)

const (
	// DefaultTable is the table command routes live in.
	DefaultTable = "BSS-DevOps-Slack-Hooks"

	keyAttr     = "key"
	expiresAttr = "expiresAt"
)

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements storage.Store on one table. Claims share the table with
// routes and carry an expiresAt attribute suitable for DynamoDB TTL.
type Store struct {
	api   API
	table string
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a store over table. An empty table uses DefaultTable.
func New(api API, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{api: api, table: table, now: time.Now}
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{keyAttr: &types.AttributeValueMemberS{Value: key}}
}

func (s *Store) Get(ctx context.Context, key string) (route.Route, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(key),
	})
	if err != nil {
		return route.Route{}, false, fmt.Errorf("dynamodb get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return route.Route{}, false, nil
	}
	var r route.Route
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return route.Route{}, false, fmt.Errorf("decode route %q: %w", key, err)
	}
	return r, true, nil
}

func (s *Store) Put(ctx context.Context, r route.Route) error {
	if r.Key == "" {
		return storage.ErrInvalidKey
	}
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("encode route %q: %w", r.Key, err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb put %q: %w", r.Key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(key),
	}); err != nil {
		return fmt.Errorf("dynamodb delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]route.Route, error) {
	paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("attribute_not_exists(#exp)"),
		ExpressionAttributeNames: map[string]string{"#exp": expiresAttr},
	})
	var result []route.Route
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", s.table, err)
		}
		var routes []route.Route
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &routes); err != nil {
			return nil, fmt.Errorf("decode routes: %w", err)
		}
		result = append(result, routes...)
	}
	return result, nil
}

func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			keyAttr:     &types.AttributeValueMemberS{Value: key},
			expiresAttr: &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#k) OR #exp <= :now"),
		ExpressionAttributeNames: map[string]string{"#k": keyAttr, "#exp": expiresAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb claim %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyOf(key),
		ConditionExpression:      aws.String("attribute_exists(#exp)"),
		ExpressionAttributeNames: map[string]string{"#exp": expiresAttr},
	}); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("dynamodb release %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
