package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies of the protocol endpoints.
const maxBodyBytes = 1 << 20

// paramError is a request validation failure naming the offending field.
type paramError struct {
	code  string
	field string
	msg   string
}

func (e *paramError) Error() string {
	if e.field == "" {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.field, e.msg)
}

func invalidParam(field, msg string) *paramError {
	return &paramError{code: ErrCodeInvalidParam, field: field, msg: msg}
}

// readObject decodes the body as a JSON object keeping raw values, so field
// types can be checked one by one.
func readObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, *paramError) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &paramError{code: ErrCodeNotJSON, msg: "request body is too large or unreadable"}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, &paramError{code: ErrCodeNotJSON, msg: "request body is not a JSON object"}
	}
	return obj, nil
}

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func asStringArray(raw json.RawMessage) ([]string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := asString(it)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func requireString(obj map[string]json.RawMessage, field string) (string, *paramError) {
	raw, ok := obj[field]
	if !ok {
		return "", invalidParam(field, "is required")
	}
	s, ok := asString(raw)
	if !ok || s == "" {
		return "", invalidParam(field, "must be a non-empty string")
	}
	return s, nil
}

// lookupParams is a validated lookup request.
type lookupParams struct {
	algorithm string
	pepper    string
	addresses []string
}

func parseLookup(obj map[string]json.RawMessage, maxAddresses int) (*lookupParams, *paramError) {
	algorithm, perr := requireString(obj, "algorithm")
	if perr != nil {
		return nil, perr
	}
	pepper, perr := requireString(obj, "pepper")
	if perr != nil {
		return nil, perr
	}
	raw, ok := obj["addresses"]
	if !ok {
		return nil, invalidParam("addresses", "is required")
	}
	addresses, ok := asStringArray(raw)
	if !ok {
		return nil, invalidParam("addresses", "must be an array of strings")
	}
	if maxAddresses > 0 && len(addresses) > maxAddresses {
		return nil, invalidParam("addresses", fmt.Sprintf("must contain at most %d entries", maxAddresses))
	}
	return &lookupParams{algorithm: algorithm, pepper: pepper, addresses: addresses}, nil
}

// pushParams is a validated federation push.
type pushParams struct {
	algorithm string
	pepper    string
	server    string
	hashes    []string
}

func parsePush(obj map[string]json.RawMessage) (*pushParams, *paramError) {
	algorithm, perr := requireString(obj, "algorithm")
	if perr != nil {
		return nil, perr
	}
	pepper, perr := requireString(obj, "pepper")
	if perr != nil {
		return nil, perr
	}
	raw, ok := obj["mappings"]
	if !ok {
		return nil, invalidParam("mappings", "is required")
	}
	raw = bytes.TrimSpace(raw)
	var mappings map[string]json.RawMessage
	if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &mappings) != nil {
		return nil, invalidParam("mappings", "must be an object")
	}
	if len(mappings) != 1 {
		return nil, invalidParam("mappings", "must contain exactly one server")
	}

	p := &pushParams{algorithm: algorithm, pepper: pepper}
	for server, v := range mappings {
		if server == "" {
			return nil, invalidParam("mappings", "server name must not be empty")
		}
		hashes, ok := asStringArray(v)
		if !ok {
			return nil, invalidParam("mappings."+server, "must be an array of strings")
		}
		p.server, p.hashes = server, hashes
	}
	return p, nil
}
