// Package models defines server-side data models persisted in the database.
package models

import "time"

// HashEntry maps the digest of one local identifier under one pepper to the
// owner's Matrix address. Active distinguishes currently provisioned
// accounts from identifiers that are only known.
type HashEntry struct {
	Hash    string
	Pepper  string
	Address string
	Active  bool
	SeenAt  time.Time
}

// FederatedClaim is a peer server's assertion that the identifier hashing to
// Hash under Pepper lives on Server.
type FederatedClaim struct {
	Hash      string
	Server    string
	Pepper    string
	CreatedAt time.Time
}

// AccessGrant maps an opaque bearer token to the subject it was issued for.
type AccessGrant struct {
	Token     string
	Subject   string
	CreatedAt time.Time
}

// PepperState is the persisted pepper row. Previous is empty when no
// rotation happened yet.
type PepperState struct {
	Current   string
	Previous  string
	RotatedAt time.Time
}
