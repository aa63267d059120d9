// Package poller drives long-running remote operations to completion.
//
// A single Poller serves every stage. The Strategy decides which endpoint to
// poll and how to read each envelope: OperationStrategy covers the machine
// stages and ValidationStrategy adds the second, human-review phase. The
// Poller owns the shared policy: fixed-interval waits while an operation is
// running, exponential backoff for whitelisted transient error codes, and
// write-through of every terminal outcome to the state store.
package poller
