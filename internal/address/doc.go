// Package address derives the water-grant state namespace and classifies
// ledger state addresses into entity kinds.
//
// An address is 70 lowercase hex characters:
//
//	namespace (6) | type code (2) | sha512(entity key)[:62]
//
// The namespace is the first 6 hex characters of sha512(family name).
// Addresses outside the namespace, or carrying an unknown type code,
// classify as KindForeign. That is expected traffic on a shared ledger,
// not an error.
package address
