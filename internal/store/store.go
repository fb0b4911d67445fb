// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package store adapts the wide-column event store (DynamoDB) for the
// pipeline. It exposes exactly the operations the data model needs:
// batched puts, atomic additive updates (numeric ADD and string-set union
// ADD), partition range queries with sort-key prefixes, and single-item
// get/put for cache rows.
//
// The underlying SDK client is constructed lazily on first use and cached
// for the lifetime of the process, so warm invocations in the same
// container reuse it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/outcomeops/analytics/internal/logging"
)

// maxBatchSize is the store's batch-put limit per request.
const maxBatchSize = 25

// unprocessedRetries bounds redrives of unprocessed batch items before the
// batch is reported failed.
const unprocessedRetries = 3

// ErrEmptyUpdate is returned when an additive update carries no counters
// and no sets.
var ErrEmptyUpdate = errors.New("additive update has no operations")

// API is the subset of the DynamoDB client the adapter uses. Tests supply
// fakes; production uses *dynamodb.Client.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var (
	sdkOnce   sync.Once
	sdkClient *dynamodb.Client
	sdkErr    error
)

// sharedDynamo returns the process-wide SDK client, building it on first
// use.
func sharedDynamo(ctx context.Context) (*dynamodb.Client, error) {
	sdkOnce.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			sdkErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		sdkClient = dynamodb.NewFromConfig(cfg)
	})
	return sdkClient, sdkErr
}

// Client is a table-scoped handle on the event store.
type Client struct {
	table string
	svc   API
}

// New returns a Client over an explicit API implementation.
func New(table string, svc API) *Client {
	return &Client{table: table, svc: svc}
}

// Open returns a Client over the cached process-wide SDK client.
func Open(ctx context.Context, table string) (*Client, error) {
	svc, err := sharedDynamo(ctx)
	if err != nil {
		return nil, err
	}
	return New(table, svc), nil
}

// Table returns the table this client operates on.
func (c *Client) Table() string {
	return c.table
}

// PutItem writes one item, overwriting any existing row with the same key.
func (c *Client) PutItem(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &c.table,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// GetItem reads one item by primary key. Returns nil when the row does
// not exist.
func (c *Client) GetItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &c.table,
		Key:       primaryKey(pk, sk),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s/%s: %w", pk, sk, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// BatchPutItems writes items in chunks of up to 25, redriving unprocessed
// items a bounded number of times. Returns the number of items accepted by
// the store. Writes are at-least-once; unique keys make replays collapse
// into the same rows.
func (c *Client) BatchPutItems(ctx context.Context, items []map[string]types.AttributeValue) (int, error) {
	written := 0
	for start := 0; start < len(items); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		accepted, err := c.writeBatch(ctx, requests)
		written += accepted
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeBatch issues one batch and redrives whatever the store leaves
// unprocessed.
func (c *Client) writeBatch(ctx context.Context, requests []types.WriteRequest) (int, error) {
	pending := map[string][]types.WriteRequest{c.table: requests}
	total := len(requests)

	for attempt := 0; ; attempt++ {
		out, err := c.svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return total - len(pending[c.table]), fmt.Errorf("failed to batch write: %w", err)
		}

		remaining := out.UnprocessedItems[c.table]
		if len(remaining) == 0 {
			return total, nil
		}
		if attempt >= unprocessedRetries {
			return total - len(remaining), fmt.Errorf("%d items unprocessed after %d retries", len(remaining), unprocessedRetries)
		}

		logging.Debug().
			Int("unprocessed", len(remaining)).
			Int("attempt", attempt+1).
			Msg("redriving unprocessed batch items")

		select {
		case <-ctx.Done():
			return total - len(remaining), ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
		pending = map[string][]types.WriteRequest{c.table: remaining}
	}
}

// AddSpec describes one atomic additive update: numeric counters ADDed,
// string sets union-ADDed, and the row ttl re-stamped.
type AddSpec struct {
	Counters   map[string]int64
	StringSets map[string][]string
	TTL        int64
}

// UpdateAdd applies an additive update to one row. ADD is commutative and
// associative, so concurrent invocations converge without coordination.
func (c *Client) UpdateAdd(ctx context.Context, pk, sk string, spec AddSpec) error {
	if len(spec.Counters) == 0 && len(spec.StringSets) == 0 {
		return ErrEmptyUpdate
	}

	names := map[string]string{"#ttl": "ttl"}
	values := map[string]types.AttributeValue{
		":ttl": numberAttr(spec.TTL),
	}

	// Attribute names are aliased unconditionally: counter names like
	// "count" collide with reserved words.
	var addParts []string
	i := 0
	for _, attr := range sortedKeys(spec.Counters) {
		alias := fmt.Sprintf("#a%d", i)
		placeholder := fmt.Sprintf(":v%d", i)
		names[alias] = attr
		values[placeholder] = numberAttr(spec.Counters[attr])
		addParts = append(addParts, alias+" "+placeholder)
		i++
	}
	for _, attr := range sortedKeys(spec.StringSets) {
		members := spec.StringSets[attr]
		if len(members) == 0 {
			continue
		}
		alias := fmt.Sprintf("#a%d", i)
		placeholder := fmt.Sprintf(":v%d", i)
		names[alias] = attr
		values[placeholder] = &types.AttributeValueMemberSS{Value: members}
		addParts = append(addParts, alias+" "+placeholder)
		i++
	}

	expr := "SET #ttl = :ttl"
	if len(addParts) > 0 {
		expr += " ADD " + joinComma(addParts)
	}

	_, err := c.svc.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &c.table,
		Key:                       primaryKey(pk, sk),
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", pk, sk, err)
	}
	return nil
}

// QueryPartition returns every item under pk whose sort key begins with
// skPrefix, following pagination to the end. An empty skPrefix returns the
// whole partition.
func (c *Client) QueryPartition(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	return c.query(ctx, nil, "PK", pk, skPrefix)
}

// QueryIndex returns every item of a secondary index partition, following
// pagination. keyAttr is the index partition attribute (GSI1PK or GSI2PK).
func (c *Client) QueryIndex(ctx context.Context, index, keyAttr, keyValue string) ([]map[string]types.AttributeValue, error) {
	return c.query(ctx, &index, keyAttr, keyValue, "")
}

func (c *Client) query(ctx context.Context, index *string, keyAttr, keyValue, skPrefix string) ([]map[string]types.AttributeValue, error) {
	names := map[string]string{"#pk": keyAttr}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: keyValue},
	}
	cond := "#pk = :pk"
	if skPrefix != "" {
		names["#sk"] = "SK"
		values[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
		cond += " AND begins_with(#sk, :prefix)"
	}

	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.svc.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &c.table,
			IndexName:                 index,
			KeyConditionExpression:    &cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query %s=%s: %w", keyAttr, keyValue, err)
		}

		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func primaryKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
