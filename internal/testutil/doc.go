// Package testutil builds validator event batches for tests.
package testutil
