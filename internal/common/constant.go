package common

const (
	// AccessTokenQueryName is the query parameter that may carry the access
	// token when no Authorization header is sent.
	AccessTokenQueryName = "access_token"

	// AuthorizationHeaderName carries "Bearer <token>".
	AuthorizationHeaderName = "Authorization"

	// ForwardedForHeaderName is consulted only when forwarded headers are trusted.
	ForwardedForHeaderName = "X-Forwarded-For"

	// HashAlgorithmSHA256 is the only lookup algorithm served.
	HashAlgorithmSHA256 = "sha256"
)

// Identity service v2 endpoints.
const (
	HashDetailsPath = "/_matrix/identity/v2/hash_details"
	LookupPath      = "/_matrix/identity/v2/lookup"
	LookupsPath     = "/_matrix/identity/v2/lookups"
)
