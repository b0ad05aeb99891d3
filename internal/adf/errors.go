package adf

import "errors"

// ErrCatalogUnavailable indicates the module's store returned no catalog
// data. An empty catalog is not this error.
var ErrCatalogUnavailable = errors.New("area description catalog unavailable")

// ErrNotRelocalized indicates a save was requested before the device
// relocalized. Recoverable; the caller may retry once relocalized.
var ErrNotRelocalized = errors.New("device has not relocalized")

// ErrKeyNotFound indicates the metadata handle has no such key.
var ErrKeyNotFound = errors.New("metadata key not found")

// ErrMetaWriteRejected indicates the in-memory metadata mutation was
// rejected before anything reached the store.
var ErrMetaWriteRejected = errors.New("metadata write rejected")

// ErrPersistFailed indicates the store refused the mutated handle. The
// in-memory mutation is lost; the caller must re-fetch and retry the full
// get/set/persist sequence.
var ErrPersistFailed = errors.New("metadata persist failed")
