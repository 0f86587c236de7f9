package ddb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/randalmurphal/dynoflow/pkg/dynoflow"
	"github.com/randalmurphal/dynoflow/pkg/dynoflow/config"
	"github.com/randalmurphal/dynoflow/pkg/dynoflow/observability"
)

// Default table names. Both tables must pre-exist with the schema
// described in the package documentation; see EnsureTables.
const (
	DefaultCheckpointTable = "checkpoints"
	DefaultWriteTable      = "writes"
)

// Client is the slice of the DynamoDB API the saver uses. Satisfied by
// *dynamodb.Client; tests substitute an in-memory fake.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Config configures a Saver. Client is required; everything else has
// a default. The client is long-lived process state owned by the
// caller: construct it once, inject it here, and tear the saver down
// with Close.
type Config struct {
	// Client is the DynamoDB client to use. Required.
	Client Client

	// CheckpointTable is the checkpoint table name.
	// Defaults to DefaultCheckpointTable.
	CheckpointTable string

	// WriteTable is the pending-write table name.
	// Defaults to DefaultWriteTable.
	WriteTable string

	// Serializer encodes payload values. Defaults to dynoflow.JSONSerializer.
	Serializer dynoflow.Serializer

	// Logger receives structured operation logs. Nil disables logging.
	Logger *slog.Logger

	// Metrics records operation metrics. Defaults to observability.NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces operations. Defaults to observability.NoopSpanManager.
	Spans observability.SpanManager
}

// New creates a Saver over pre-existing DynamoDB tables.
func New(cfg Config) (*Saver, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("ddb: client is required")
	}
	if cfg.CheckpointTable == "" {
		cfg.CheckpointTable = DefaultCheckpointTable
	}
	if cfg.WriteTable == "" {
		cfg.WriteTable = DefaultWriteTable
	}
	if cfg.Serializer == nil {
		cfg.Serializer = dynoflow.JSONSerializer{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}

	return &Saver{
		checkpoints: checkpointTable{client: cfg.Client, table: cfg.CheckpointTable},
		writes:      writeLog{client: cfg.Client, table: cfg.WriteTable},
		serde:       cfg.Serializer,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		spans:       cfg.Spans,
	}, nil
}

// Connection carries the client-construction knobs a settings file can
// specify. The saver never dials anything itself; callers use these
// when building the *dynamodb.Client they inject.
type Connection struct {
	// Region is the AWS region, empty for the default credential chain.
	Region string

	// Endpoint overrides the service endpoint, e.g. a DynamoDB Local
	// address. Empty means the SDK default.
	Endpoint string
}

// ConfigFromFile builds a saver Config from a YAML or JSON settings
// file. Recognized keys, all optional, live under a top-level
// "dynamodb" section:
//
//	dynamodb:
//	  checkpoint_table: checkpoints
//	  write_table: writes
//	  region: us-west-2
//	  endpoint: http://localhost:8000
//
// The returned Config has no Client: construct one from the returned
// Connection and set it before calling New.
func ConfigFromFile(path string) (Config, Connection, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return Config{}, Connection{}, fmt.Errorf("ddb: load settings: %w", err)
	}

	sec := cfg.Sub("dynamodb")
	return Config{
			CheckpointTable: sec.String("checkpoint_table", DefaultCheckpointTable),
			WriteTable:      sec.String("write_table", DefaultWriteTable),
		}, Connection{
			Region:   sec.String("region", ""),
			Endpoint: sec.String("endpoint", ""),
		}, nil
}
