/*
Package dynoflow persists append-only checkpoint histories for graph
runtimes on top of a two-table key-value store.

# Overview

dynoflow is a Go library for saving and replaying execution state of
long-running, thread-scoped workflows. Each thread accumulates an
immutable chain of checkpoints; each checkpoint may carry pending
writes recorded by tasks that ran against it. The library is inspired
by LangGraph's checkpoint savers but built for Go with:

  - A DynamoDB backend (pkg/dynoflow/ddb) and a SQLite backend
    (pkg/dynoflow/sqlite) behind one Saver interface
  - Time-ordered UUIDv7 checkpoint identifiers, so descending key
    order equals reverse-chronological order
  - A pluggable value serializer (JSON by default)
  - OpenTelemetry integration for observability

# Basic Usage

Open a saver, write a checkpoint, read it back:

	saver, err := sqlite.New(sqlite.Config{Path: "./checkpoints.db"})
	if err != nil {
	    log.Fatal(err)
	}
	defer saver.Close()

	addr := dynoflow.Address{ThreadID: "thread-1"}
	cp := dynoflow.NewCheckpoint(map[string]any{"step": "plan"})

	written, err := saver.Put(ctx, addr, cp, dynoflow.Metadata{"source": "loop"})
	if err != nil {
	    log.Fatal(err)
	}

	tuple, err := saver.Get(ctx, written)

Omitting CheckpointID on Get resolves the most recent checkpoint in
the thread. Put records the address you were pointing at as the new
checkpoint's parent, forming a backward lineage chain.

# Pending Writes

Tasks record side-effect values against the checkpoint they ran on:

	err = saver.PutWrites(ctx, written, []dynoflow.ChannelWrite{
	    {Channel: "messages", Value: "hello"},
	}, "task-1")

Pending writes are returned, decoded, on Get (not on List).

# History

List pages through a thread's history newest-first without loading
pending writes:

	it := saver.List(ctx, addr, dynoflow.ListOptions{Limit: 10})
	for it.Next(ctx) {
	    fmt.Println(it.Tuple().Address.CheckpointID)
	}
	if err := it.Err(); err != nil {
	    log.Fatal(err)
	}
*/
package dynoflow
