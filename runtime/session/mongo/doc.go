// Package mongo provides a MongoDB-backed implementation of session.Store.
// Build the low-level client via runtime/session/mongo/clients/mongo and
// pass it to NewStore; this is the durable-tier session backend the
// Session Manager uses outside of tests.
package mongo
