// Package services contains server-side business logic: lookup resolution,
// federation ingest, hash directory maintenance and the outbound push.
package services

import "github.com/dmitrijs2005/fedid/internal/server/pepper"

// PepperSource yields one consistent view of the live peppers.
// *pepper.Store satisfies it.
type PepperSource interface {
	Snapshot() pepper.Pair
}
