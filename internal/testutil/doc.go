// Package testutil provides in-memory stand-ins for the AWS clients used by
// the stores, so tests drive the real adapters without a network.
//
// MemoryDynamo interprets only the expression shapes this module produces:
// "SET path = :v, ..." updates, "path = :v AND ..." filters, and
// attribute_exists / attribute_not_exists conditions.
package testutil
