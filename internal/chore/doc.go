// Package chore defines the plain-data entities shared by the recurrence,
// completion, and assignment packages.
//
// These types carry no persistence or transport concerns; the storage layer
// maps them to and from its own schema.
package chore
