// Package license holds the licensing domain model: the License record with
// its bounded device set, the lifecycle status enumeration with the mapping
// from upstream purchase statuses, activation code generation and format
// validation, and the tolerant extraction of normalized events from raw
// purchase webhook payloads.
//
// The package is persistence-agnostic; all state lives behind the store
// interfaces in internal/store.
package license
