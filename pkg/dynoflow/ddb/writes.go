package ddb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// batchWriteLimit is DynamoDB's BatchWriteItem ceiling. Larger appends
// are chunked; chunks flush sequentially, so a mid-sequence failure
// leaves earlier chunks durably written.
const batchWriteLimit = 25

// writeLog wraps the secondary table holding per-checkpoint pending
// writes.
type writeLog struct {
	client Client
	table  string
}

// encodedWrite is one already-serialized pending write.
type encodedWrite struct {
	channel string
	typeTag string
	value   []byte
}

// append stores one write record per element, idx assigned by position.
// Returns the number of batches flushed, including the failed one.
func (w writeLog) append(ctx context.Context, partitionKey, taskID string, writes []encodedWrite) (int, error) {
	requests := make([]types.WriteRequest, 0, len(writes))
	for idx, wr := range writes {
		av, err := marshalWriteItem(writeItem{
			PartitionKey: partitionKey,
			SortKey:      joinSortKey(taskID, idx),
			Channel:      wr.channel,
			Type:         wr.typeTag,
			Value:        wr.value,
		})
		if err != nil {
			return 0, err
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}

	batches := 0
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(requests))
		batches++

		out, err := w.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				w.table: requests[start:end],
			},
		})
		if err != nil {
			return batches, fmt.Errorf("ddb: write batch %d for %q: %w", batches, partitionKey, err)
		}
		// No retry policy here: unprocessed leftovers surface to the
		// caller like any other store failure.
		if leftover := len(out.UnprocessedItems[w.table]); leftover > 0 {
			return batches, fmt.Errorf("ddb: write batch %d for %q: %d items unprocessed",
				batches, partitionKey, leftover)
		}
	}
	return batches, nil
}

// fetchAll reads every write record for one checkpoint, in store-native
// order. Callers needing per-write ordering sort by the decoded idx.
func (w writeLog) fetchAll(ctx context.Context, partitionKey string) ([]writeItem, error) {
	paginator := dynamodb.NewQueryPaginator(w.client, &dynamodb.QueryInput{
		TableName:              aws.String(w.table),
		KeyConditionExpression: aws.String("thread_id_checkpoint_id_checkpoint_ns = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey},
		},
	})

	var items []writeItem
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ddb: fetch writes for %q: %w", partitionKey, err)
		}
		for _, av := range out.Items {
			it, err := unmarshalWriteItem(av)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
	}
	return items, nil
}
