// Package worker runs retrieval requests on a single dedicated goroutine.
//
// Callers exchange typed messages with the worker: a SEARCH request in, one
// SEARCH_RESULT or ERROR response out. Requests are served strictly in
// submission order; a request submitted while another runs waits in a
// bounded queue. The same Request and Response types are the wire format of
// transport/natsrpc.
package worker
