package dynamo

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

type fakeTable struct {
	items    map[string]map[string]types.AttributeValue
	lastGet  *dynamodb.GetItemInput
	getErr   error
	pageSize int
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func keyString(key map[string]types.AttributeValue) string {
	if s, ok := key["key"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeTable) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGet = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyString(in.Key)]}, nil
}

func (f *fakeTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := keyString(in.Item)
	if in.ConditionExpression != nil {
		if existing, ok := f.items[key]; ok {
			exp, isClaim := existing["expiresAt"].(*types.AttributeValueMemberN)
			now := in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value
			var e int64
			if isClaim {
				e, _ = strconv.ParseInt(exp.Value, 10, 64)
			}
			n, _ := strconv.ParseInt(now, 10, 64)
			if !isClaim || e > n {
				return nil, &types.ConditionalCheckFailedException{Message: strPtr("condition failed")}
			}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, keyString(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// Scan applies the expiresAt filter and pages pageSize items at a time.
func (f *fakeTable) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	var keys []string
	for k, item := range f.items {
		if _, isClaim := item["expiresAt"]; isClaim {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := keyString(in.ExclusiveStartKey)
		for i, k := range keys {
			if k == last {
				start = i + 1
			}
		}
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}
	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = keyOf(keys[end-1])
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestStoreRoutes(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	table.pageSize = 1
	s := New(table, "")

	if _, found, err := s.Get(ctx, "deploy staging"); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}
	if *table.lastGet.TableName != DefaultTable {
		t.Fatalf("expected default table, got %s", *table.lastGet.TableName)
	}

	want := route.Route{
		Key:             "deploy staging",
		LambdaTarget:    "deployer",
		Metadata:        map[string]any{"env": "staging"},
		ResponseMessage: "Deploying",
	}
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := s.Put(ctx, route.Route{Key: "build app"}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, err := s.Claim(ctx, "approval:tok:Approval:Approved", time.Minute); err != nil {
		t.Fatalf("Claim error: %v", err)
	}

	got, found, err := s.Get(ctx, "deploy staging")
	if err != nil || !found {
		t.Fatalf("Get found=%v err=%v", found, err)
	}
	if got.LambdaTarget != "deployer" || got.ResponseMessage != "Deploying" || got.Metadata["env"] != "staging" {
		t.Fatalf("unexpected route: %+v", got)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two routes across pages without claims, got %+v", list)
	}

	if err := s.Delete(ctx, "deploy staging"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, found, _ := s.Get(ctx, "deploy staging"); found {
		t.Fatal("expected route deleted")
	}
}

func TestStoreGetError(t *testing.T) {
	table := newFakeTable()
	table.getErr = errors.New("ResourceNotFoundException")
	_, _, err := New(table, "t").Get(context.Background(), "k")
	if err == nil || !strings.Contains(err.Error(), "ResourceNotFoundException") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStoreClaim(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)
	s := New(newFakeTable(), "")
	s.now = func() time.Time { return now }

	ok, err := s.Claim(ctx, "approval:tok:Approval:Approved", 15*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = s.Claim(ctx, "approval:tok:Approval:Approved", 15*time.Minute)
	if err != nil || ok {
		t.Fatalf("duplicate claim = %v, %v", ok, err)
	}
	now = now.Add(20 * time.Minute)
	ok, err = s.Claim(ctx, "approval:tok:Approval:Approved", 15*time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim after expiry = %v, %v", ok, err)
	}
}
