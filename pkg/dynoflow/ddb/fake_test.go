package ddb_test

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo emulates the slice of DynamoDB behavior the saver relies
// on: keyed point ops, range queries with DynamoDB's filter-after-limit
// semantics, and batched writes. Good enough for contract tests; not a
// general DynamoDB.
type fakeDynamo struct {
	mu         sync.Mutex
	tables     map[string]*fakeTable
	queryCalls int
	batchCalls int

	// failBatch, when > 0, makes the Nth BatchWriteItem call fail with
	// batchErr without applying its items.
	failBatch int
	batchErr  error

	// queryErr, when set, makes every Query call fail.
	queryErr error
}

type fakeTable struct {
	pkAttr string
	skAttr string
	rows   map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables: map[string]*fakeTable{
			"checkpoints": {
				pkAttr: "thread_id",
				skAttr: "checkpoint_id",
				rows:   make(map[string]map[string]types.AttributeValue),
			},
			"writes": {
				pkAttr: "thread_id_checkpoint_id_checkpoint_ns",
				skAttr: "task_id_idx",
				rows:   make(map[string]map[string]types.AttributeValue),
			},
		},
	}
}

func sval(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) table(name *string) *fakeTable {
	return f.tables[aws.ToString(name)]
}

func (t *fakeTable) key(item map[string]types.AttributeValue) string {
	return sval(item[t.pkAttr]) + "\x00" + sval(item[t.skAttr])
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.table(in.TableName)
	item, ok := t.rows[t.key(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.table(in.TableName)
	t.rows[t.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCalls++
	if f.failBatch > 0 && f.batchCalls == f.failBatch {
		return nil, f.batchErr
	}

	for name, requests := range in.RequestItems {
		t := f.tables[name]
		for _, req := range requests {
			if req.PutRequest != nil {
				t.rows[t.key(req.PutRequest.Item)] = req.PutRequest.Item
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

// Query supports the expressions this package issues: partition
// equality (":thread_id" or ":pk"), an optional ":before" exclusive
// sort-key bound in the key condition, and an optional ":ns" equality
// filter applied after the Limit, like DynamoDB does.
func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	t := f.table(in.TableName)

	pv := ""
	if v, ok := in.ExpressionAttributeValues[":thread_id"]; ok {
		pv = sval(v)
	} else if v, ok := in.ExpressionAttributeValues[":pk"]; ok {
		pv = sval(v)
	}
	before := ""
	if v, ok := in.ExpressionAttributeValues[":before"]; ok {
		before = sval(v)
	}

	// Key condition: partition equality plus optional sort upper bound.
	var matched []map[string]types.AttributeValue
	for _, item := range t.rows {
		if sval(item[t.pkAttr]) != pv {
			continue
		}
		if before != "" && sval(item[t.skAttr]) >= before {
			continue
		}
		matched = append(matched, item)
	}

	descending := in.ScanIndexForward != nil && !*in.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		a, b := sval(matched[i][t.skAttr]), sval(matched[j][t.skAttr])
		if descending {
			return a > b
		}
		return a < b
	})

	// Resume strictly after the ExclusiveStartKey in iteration order.
	if in.ExclusiveStartKey != nil {
		startSK := sval(in.ExclusiveStartKey[t.skAttr])
		i := 0
		for i < len(matched) && sval(matched[i][t.skAttr]) != startSK {
			i++
		}
		if i < len(matched) {
			matched = matched[i+1:]
		}
	}

	scanned := matched
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		scanned = matched[:int(*in.Limit)]
	}

	out := &dynamodb.QueryOutput{}
	if len(scanned) < len(matched) && len(scanned) > 0 {
		last := scanned[len(scanned)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			t.pkAttr: last[t.pkAttr],
			t.skAttr: last[t.skAttr],
		}
	}

	// Filter expression runs after the scan window, like DynamoDB.
	ns := ""
	filterNS := false
	if v, ok := in.ExpressionAttributeValues[":ns"]; ok {
		ns = sval(v)
		filterNS = true
	}
	for _, item := range scanned {
		if filterNS && sval(item["checkpoint_ns"]) != ns {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}
