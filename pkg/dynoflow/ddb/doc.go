/*
Package ddb persists dynoflow checkpoint histories in DynamoDB.

Two flat tables back the saver:

	checkpoints:
	    partition key  thread_id (S)
	    sort key       checkpoint_id (S)
	    attributes     checkpoint_ns, parent_checkpoint_id, type,
	                   checkpoint (B), metadata (B)

	writes:
	    partition key  thread_id_checkpoint_id_checkpoint_ns (S)
	    sort key       task_id_idx (S)
	    attributes     channel, type, value (B)

The writes table's composite keys are joined with a ":::" separator;
identifier values must not contain that sequence. Checkpoint IDs must
sort lexicographically in creation order (dynoflow.NewCheckpointID
guarantees this), which is what makes descending-key queries
reverse-chronological.

Table creation, capacity mode, and IAM are the deployment's concern;
EnsureTables covers the simple on-demand case for examples and local
development.
*/
package ddb
