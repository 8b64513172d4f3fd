// Package remote is the network adapter: the single seam between the
// sync engine and the remote data service. It renders engine-level
// requests onto the versioned HTTP contract, bounds every exchange with
// a timeout, captures version-conflict rejections into the conflict
// ledger, queues unreachable mutations durably, and replays the queue
// in order when connectivity returns.
package remote
