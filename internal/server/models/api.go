package models

// HashDetails is the body of GET hash_details.
type HashDetails struct {
	Algorithms       []string `json:"algorithms"`
	LookupPepper     string   `json:"lookup_pepper"`
	AltLookupPeppers []string `json:"alt_lookup_peppers,omitempty"`
}

// LookupRequest is the body of POST lookup.
type LookupRequest struct {
	Algorithm string   `json:"algorithm"`
	Pepper    string   `json:"pepper"`
	Addresses []string `json:"addresses"`
}

// LookupResponse is the body of a successful lookup. InactiveMappings is nil,
// and therefore absent, unless the deployment discloses inactive identifiers.
type LookupResponse struct {
	Mappings           map[string]string   `json:"mappings"`
	InactiveMappings   map[string]string   `json:"inactive_mappings,omitempty"`
	ThirdPartyMappings map[string][]string `json:"third_party_mappings"`
}

// PushRequest is the body of POST lookups. Mappings holds exactly one key,
// the pushing server's name.
type PushRequest struct {
	Algorithm string              `json:"algorithm"`
	Pepper    string              `json:"pepper"`
	Mappings  map[string][]string `json:"mappings"`
}
