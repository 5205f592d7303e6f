// Package model holds the value types for the federation's data model
// (spec §3). Entities are plain structs with foreign-key identifiers, not
// owning pointers between parent and child — the ORM back-reference cycle
// the original system has (node <-> network <-> stat) is deliberately not
// reproduced here (spec §9).
package model

import "time"

// Node is a participating data center.
type Node struct {
	ID   int64
	Name string // unique
	Contact string

	// DefaultPolicy is nil when "unset" (tri-state per spec §4.4).
	DefaultPolicy *bool

	// EASGroup is the group authorized to view this node's restricted
	// networks when DefaultPolicy/inversion combine to "restricted".
	EASGroup string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Network is a seismic network bound to exactly one node.
// Primary key: (NodeID, Name).
type Network struct {
	NodeID int64
	Name   string

	// Inversion is nil when "unset".
	Inversion *bool

	EASGroup string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Token is an opaque per-node bearer secret used by the submission
// pipeline (distinct from the query-endpoint signed token).
type Token struct {
	ID         int64
	NodeID     int64
	Value      string
	ValidFrom  time.Time
	ValidUntil time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Valid reports whether the token authenticates a submission at instant t.
func (tok Token) Valid(t time.Time) bool {
	return !t.Before(tok.ValidFrom) && t.Before(tok.ValidUntil)
}

// PayloadReceipt records one accepted submission for duplicate detection.
// (NodeID, Hash) is unique.
type PayloadReceipt struct {
	ID            int64
	NodeID        int64
	Hash          int64 // signed 64-bit murmur3_32 result, widened
	Version       string
	GeneratedAt   time.Time
	DaysCoverage  []string // YYYY-MM-DD
	CreatedAt     time.Time
}

// StatKey is the composite primary key of a DataselectStat bucket.
type StatKey struct {
	NodeID   int64
	Date     time.Time // first day of month
	Network  string
	Station  string
	Location string
	Channel  string
	Country  *string // 2-letter code or nil
}

// DataselectStat is one monthly rolled-up bucket (spec §3).
type DataselectStat struct {
	Key StatKey

	Bytes                int64
	NbRequests           int64
	NbSuccessfulRequests int64
	NbFailedRequests     int64

	// Clients is the opaque HLL sketch for unique clients in this bucket.
	// It is owned exclusively by this stat once assembled; it is never
	// shared with another stat without an explicit union copy (spec §3
	// ownership rule).
	Clients []byte // wire-format bytes, see internal/hll

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCountry coerces anything that isn't a 2-letter code to nil,
// per spec §4.3 step 5.
func NormalizeCountry(raw string) *string {
	if len(raw) != 2 {
		return nil
	}
	c := raw
	return &c
}
