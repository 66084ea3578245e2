// Package dynamo provides the DynamoDB kv backend the production system runs
// on. Conditions compile to ConditionExpressions and multi-item writes use
// TransactWriteItems, so the store-side guarantees are exactly the ones the
// collision guard relies on.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"finzcore/internal/kv/core"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Config holds explicit construction parameters (mostly for tests and local
// endpoints). For prod we rely primarily on the default credentials chain.
type Config struct {
	Region          string
	Endpoint        string // optional; if set enables a custom endpoint (e.g. dynamodb-local)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
}

// Environment variables:
//
//	FINZCORE_KV_DRIVER=dynamo
//	FINZCORE_DYNAMO_REGION=<region> (default us-east-2, the original deployment region)
//	FINZCORE_DYNAMO_ENDPOINT=<url> (optional, for dynamodb-local)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// Store implements core.Store on DynamoDB tables keyed by pk/sk string
// attributes.
type Store struct {
	client *dynamodb.Client
}

var _ core.Store = (*Store)(nil)

// New creates a DynamoDB store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-2"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client}, nil
}

// OpenFromEnv constructs a DynamoDB store from process environment.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	return New(ctx, Config{
		Region:   os.Getenv("FINZCORE_DYNAMO_REGION"),
		Endpoint: os.Getenv("FINZCORE_DYNAMO_ENDPOINT"),
	})
}

func (s *Store) Driver() core.Driver { return core.DriverDynamo }

// Close is a no-op; the SDK client holds no long-lived connections that need
// explicit teardown.
func (s *Store) Close() error { return nil }

func keyAttributes(key core.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key.PK},
		"sk": &types.AttributeValueMemberS{Value: key.SK},
	}
}

// Get performs a consistent point read.
func (s *Store) Get(ctx context.Context, table string, key core.Key) (core.Item, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	var item core.Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("decode item %s/%s: %w", key.PK, key.SK, err)
	}
	return item, true, nil
}

// expression compiles a core.Condition into a DynamoDB ConditionExpression.
// The clauses OR together, matching Condition.Evaluate.
func expression(c *core.Condition) (string, map[string]string, map[string]types.AttributeValue, error) {
	if c == nil {
		return "", nil, nil, nil
	}
	var parts []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	if c.Absent {
		parts = append(parts, "attribute_not_exists(pk)")
	}
	if c.FieldMissing != "" {
		names["#m"] = c.FieldMissing
		parts = append(parts, "attribute_not_exists(#m)")
	}
	if len(c.FieldEquals) > 0 {
		fields := make([]string, 0, len(c.FieldEquals))
		for f := range c.FieldEquals {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		var eqs []string
		for i, f := range fields {
			n := fmt.Sprintf("#e%d", i)
			v := fmt.Sprintf(":e%d", i)
			names[n] = f
			av, err := attributevalue.Marshal(c.FieldEquals[f])
			if err != nil {
				return "", nil, nil, fmt.Errorf("encode condition value %s: %w", f, err)
			}
			values[v] = av
			eqs = append(eqs, n+" = "+v)
		}
		parts = append(parts, "("+strings.Join(eqs, " AND ")+")")
	}
	if len(parts) == 0 {
		// Zero condition never passes against an existing item.
		parts = append(parts, "attribute_not_exists(pk)")
	}
	if len(names) == 0 {
		names = nil
	}
	if len(values) == 0 {
		values = nil
	}
	return strings.Join(parts, " OR "), names, values, nil
}

// Put writes one item, honoring the condition.
func (s *Store) Put(ctx context.Context, put core.Put) error {
	av, err := attributevalue.MarshalMap(map[string]any(put.Item))
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	input := &dynamodb.PutItemInput{TableName: aws.String(put.Table), Item: av}
	if put.Condition != nil {
		expr, names, values, err := expression(put.Condition)
		if err != nil {
			return err
		}
		input.ConditionExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return core.ErrConditionFailed
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// TransactWrite applies every put atomically via TransactWriteItems.
func (s *Store) TransactWrite(ctx context.Context, puts ...core.Put) error {
	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, put := range puts {
		av, err := attributevalue.MarshalMap(map[string]any(put.Item))
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		p := &types.Put{TableName: aws.String(put.Table), Item: av}
		if put.Condition != nil {
			expr, names, values, err := expression(put.Condition)
			if err != nil {
				return err
			}
			p.ConditionExpression = aws.String(expr)
			p.ExpressionAttributeNames = names
			p.ExpressionAttributeValues = values
		}
		items = append(items, types.TransactWriteItem{Put: p})
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		var cancelled *types.TransactionCanceledException
		if errors.As(err, &cancelled) {
			for _, reason := range cancelled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return core.ErrConditionFailed
				}
			}
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Scan returns one page of the table.
func (s *Store) Scan(ctx context.Context, req core.ScanRequest) (core.ScanPage, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(req.Table)}
	if req.Limit > 0 {
		input.Limit = aws.Int32(int32(req.Limit))
	}
	if req.StartKey != nil {
		input.ExclusiveStartKey = keyAttributes(*req.StartKey)
	}
	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return core.ScanPage{}, fmt.Errorf("scan: %w", err)
	}
	var page core.ScanPage
	for _, raw := range out.Items {
		var item core.Item
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return core.ScanPage{}, fmt.Errorf("decode scan item: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if len(out.LastEvaluatedKey) > 0 {
		var last struct {
			PK string `dynamodbav:"pk"`
			SK string `dynamodbav:"sk"`
		}
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &last); err != nil {
			return core.ScanPage{}, fmt.Errorf("decode scan cursor: %w", err)
		}
		page.LastKey = &core.Key{PK: last.PK, SK: last.SK}
	}
	return page, nil
}

// Query returns all items under a partition key, following pagination until
// exhausted.
func (s *Store) Query(ctx context.Context, req core.QueryRequest) ([]core.Item, error) {
	keyExpr := "pk = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: req.PK},
	}
	if req.SKPrefix != "" {
		keyExpr += " AND begins_with(sk, :skp)"
		values[":skp"] = &types.AttributeValueMemberS{Value: req.SKPrefix}
	}

	var out []core.Item
	var start map[string]types.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(req.Table),
			KeyConditionExpression:    aws.String(keyExpr),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		for _, raw := range resp.Items {
			var item core.Item
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("decode query item: %w", err)
			}
			out = append(out, item)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		start = resp.LastEvaluatedKey
	}
	return out, nil
}
