package models

// DirectoryRecord is one identifier of a local user as enumerated by the
// directory backend. Value is the plaintext 3PID and never leaves the server.
type DirectoryRecord struct {
	Address string `json:"address"`
	Medium  string `json:"medium"`
	Value   string `json:"value"`
	Active  bool   `json:"active"`
}
