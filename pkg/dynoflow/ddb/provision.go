package ddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// AdminClient is the slice of the DynamoDB API EnsureTables uses.
// Satisfied by *dynamodb.Client.
type AdminClient interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// tableActivePollInterval paces the DescribeTable wait loop.
const tableActivePollInterval = 2 * time.Second

// EnsureTables creates both saver tables with on-demand billing and
// waits until they are active. Existing tables are left untouched.
// Meant for examples, tests, and local development; production
// deployments provision tables with their own tooling.
func EnsureTables(ctx context.Context, client AdminClient, checkpointTable, writeTable string) error {
	if checkpointTable == "" {
		checkpointTable = DefaultCheckpointTable
	}
	if writeTable == "" {
		writeTable = DefaultWriteTable
	}

	tables := []struct {
		name         string
		partitionKey string
		sortKey      string
	}{
		{checkpointTable, "thread_id", "checkpoint_id"},
		{writeTable, "thread_id_checkpoint_id_checkpoint_ns", "task_id_idx"},
	}

	for _, t := range tables {
		if err := createTable(ctx, client, t.name, t.partitionKey, t.sortKey); err != nil {
			return err
		}
	}
	for _, t := range tables {
		if err := waitTableActive(ctx, client, t.name); err != nil {
			return err
		}
	}
	return nil
}

func createTable(ctx context.Context, client AdminClient, name, partitionKey, sortKey string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(partitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(sortKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(partitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange},
		},
	})
	if err != nil && !isResourceInUse(err) {
		return fmt.Errorf("ddb: create table %q: %w", name, err)
	}
	return nil
}

func waitTableActive(ctx context.Context, client AdminClient, name string) error {
	for {
		out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("ddb: describe table %q: %w", name, err)
		}
		if out.Table != nil && out.Table.TableStatus == types.TableStatusActive {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("ddb: waiting for table %q: %w", name, ctx.Err())
		case <-time.After(tableActivePollInterval):
		}
	}
}

// isResourceInUse reports whether err is DynamoDB's "table already
// exists" rejection.
func isResourceInUse(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ResourceInUseException"
}
