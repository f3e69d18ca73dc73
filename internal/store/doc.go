// Package store defines interfaces for the persistence collaborators of the frontier
// (the rejected-URL error log and the indexed-document lookup). Implementations live
// in internal/storage; this package must not import database drivers or concrete clients.
package store
