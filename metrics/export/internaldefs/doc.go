// Package internaldefs holds the metric names, help strings and bucket
// bounds shared by the Prometheus and OTel exporters.
//
// Both exporters read the same definitions so an engine exposes identical
// names through either backend.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
