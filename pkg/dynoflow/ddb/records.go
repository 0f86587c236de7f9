package ddb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxItemSize is the DynamoDB per-item ceiling (400 KiB). Inserts whose
// estimated encoded size exceeds it are rejected before the store call.
const maxItemSize = 400 * 1024

// checkpointItem is the checkpoint table's row shape.
// Partition key thread_id, sort key checkpoint_id.
type checkpointItem struct {
	ThreadID           string `dynamodbav:"thread_id"`
	CheckpointID       string `dynamodbav:"checkpoint_id"`
	Namespace          string `dynamodbav:"checkpoint_ns"`
	ParentCheckpointID string `dynamodbav:"parent_checkpoint_id,omitempty"`
	Type               string `dynamodbav:"type"`
	Checkpoint         []byte `dynamodbav:"checkpoint"`
	Metadata           []byte `dynamodbav:"metadata"`
}

// writeItem is the pending-write table's row shape. The partition key
// is the codec-joined owner triple, the sort key the joined (task, idx).
type writeItem struct {
	PartitionKey string `dynamodbav:"thread_id_checkpoint_id_checkpoint_ns"`
	SortKey      string `dynamodbav:"task_id_idx"`
	Channel      string `dynamodbav:"channel"`
	Type         string `dynamodbav:"type"`
	Value        []byte `dynamodbav:"value"`
}

func marshalCheckpointItem(it checkpointItem) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint item: %w", err)
	}
	return av, nil
}

func unmarshalCheckpointItem(av map[string]types.AttributeValue) (checkpointItem, error) {
	var it checkpointItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return checkpointItem{}, fmt.Errorf("unmarshal checkpoint item: %w", err)
	}
	return it, nil
}

func marshalWriteItem(it writeItem) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal write item: %w", err)
	}
	return av, nil
}

func unmarshalWriteItem(av map[string]types.AttributeValue) (writeItem, error) {
	var it writeItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return writeItem{}, fmt.Errorf("unmarshal write item: %w", err)
	}
	return it, nil
}

// estimateItemSize approximates DynamoDB's item size accounting:
// attribute name lengths plus value payload lengths. Only the scalar
// types this package stores are handled.
func estimateItemSize(av map[string]types.AttributeValue) int {
	size := 0
	for name, value := range av {
		size += len(name)
		switch v := value.(type) {
		case *types.AttributeValueMemberS:
			size += len(v.Value)
		case *types.AttributeValueMemberB:
			size += len(v.Value)
		case *types.AttributeValueMemberN:
			size += len(v.Value)
		}
	}
	return size
}
