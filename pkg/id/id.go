// Package id produces the identifiers stamped on violation audit rows.
package id

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string. Violation rows are appended continuously
// while enforcement runs; IDs that sort by creation time keep the audit
// trail ordered without an extra index. ulid.Make is safe for concurrent
// use and monotonic within a millisecond.
func New() string {
	return ulid.Make().String()
}
