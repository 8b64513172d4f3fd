// Package batch accumulates local mutation intents over a collection
// window and reduces them into the minimal set of network calls: one
// call per surviving (document, op) pair, with later deletes shadowing
// earlier intents at equal or coarser granularity.
package batch
