package ddb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
)

// latestPageSize bounds how many items one Query reads while resolving
// the latest checkpoint in a namespace. The namespace filter runs after
// the key condition, so a page can come back empty and paging continues.
const latestPageSize = 25

// checkpointTable wraps the primary table: point lookups, descending
// history pages, and single-record inserts.
type checkpointTable struct {
	client Client
	table  string
}

// get point-reads one checkpoint. Returns (nil, nil) when absent.
func (t checkpointTable) get(ctx context.Context, threadID, checkpointID string) (*checkpointItem, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.table),
		Key: map[string]types.AttributeValue{
			"thread_id":     &types.AttributeValueMemberS{Value: threadID},
			"checkpoint_id": &types.AttributeValueMemberS{Value: checkpointID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ddb: get checkpoint %q/%q: %w", threadID, checkpointID, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	it, err := unmarshalCheckpointItem(out.Item)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// latest resolves the newest checkpoint in (thread, namespace) by
// descending sort-key order, strongly consistent. Returns (nil, nil)
// when the thread has no checkpoint in the namespace. This trades a
// bounded partition scan for not maintaining a separate latest pointer;
// it relies on checkpoint IDs sorting in creation order.
func (t checkpointTable) latest(ctx context.Context, threadID, namespace string) (*checkpointItem, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(t.table),
		KeyConditionExpression: aws.String("thread_id = :thread_id"),
		FilterExpression:       aws.String("checkpoint_ns = :ns"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":thread_id": &types.AttributeValueMemberS{Value: threadID},
			":ns":        &types.AttributeValueMemberS{Value: namespace},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(latestPageSize),
	}

	for {
		out, err := t.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("ddb: query latest checkpoint %q: %w", threadID, err)
		}
		if len(out.Items) > 0 {
			it, err := unmarshalCheckpointItem(out.Items[0])
			if err != nil {
				return nil, err
			}
			return &it, nil
		}
		if out.LastEvaluatedKey == nil {
			return nil, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// page reads one descending history page. before, when non-empty, is an
// exclusive upper bound on checkpoint_id. startKey continues a previous
// page. Returns the items, the continuation key (nil at partition
// exhaustion), and an error.
func (t checkpointTable) page(ctx context.Context, threadID, before string, limit int32, startKey map[string]types.AttributeValue) ([]checkpointItem, map[string]types.AttributeValue, error) {
	keyCond := "thread_id = :thread_id"
	values := map[string]types.AttributeValue{
		":thread_id": &types.AttributeValueMemberS{Value: threadID},
	}
	if before != "" {
		keyCond += " AND checkpoint_id < :before"
		values[":before"] = &types.AttributeValueMemberS{Value: before}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
		ExclusiveStartKey:         startKey,
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	out, err := t.client.Query(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("ddb: list checkpoints %q: %w", threadID, err)
	}

	items := make([]checkpointItem, 0, len(out.Items))
	for _, av := range out.Items {
		it, err := unmarshalCheckpointItem(av)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, it)
	}
	return items, out.LastEvaluatedKey, nil
}

// insert upserts one checkpoint record. Last writer wins: there is no
// conditional guard, matching the ID-uniqueness contract in the Saver
// docs. Oversized records fail with dynoflow.ErrPayloadTooLarge before
// the store call.
func (t checkpointTable) insert(ctx context.Context, it checkpointItem) error {
	av, err := marshalCheckpointItem(it)
	if err != nil {
		return err
	}
	if size := estimateItemSize(av); size > maxItemSize {
		return fmt.Errorf("%w: checkpoint %q/%q is %d bytes, limit %d",
			dynoflow.ErrPayloadTooLarge, it.ThreadID, it.CheckpointID, size, maxItemSize)
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("ddb: put checkpoint %q/%q: %w", it.ThreadID, it.CheckpointID, err)
	}
	return nil
}
