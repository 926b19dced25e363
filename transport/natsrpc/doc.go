// Package natsrpc exposes the worker protocol over NATS request/reply.
//
// A server subscribes with Serve and hands each decoded worker.Request to a
// Handler; a Client sends requests and decodes worker.Response values. Trace
// context travels in message headers, as does the codec name, so JSON and
// go-json peers can talk to each other.
package natsrpc
