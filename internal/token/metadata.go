// Package token decodes the contract's self-contained token metadata. The
// contract returns tokenURI as a base64 data URI wrapping ERC-721 JSON, with
// the image itself another data URI.
package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const jsonDataURIPrefix = "data:application/json;base64,"

// Attribute is one ERC-721 metadata trait.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Metadata is decoded ERC-721 token metadata.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
}

// DecodeMetadata decodes a base64 JSON data URI into Metadata.
func DecodeMetadata(uri string) (*Metadata, error) {
	if !strings.HasPrefix(uri, jsonDataURIPrefix) {
		return nil, fmt.Errorf("unsupported token URI scheme %q", truncate(uri, 40))
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, jsonDataURIPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode metadata payload: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &m, nil
}

// Attribute returns the value of the named trait.
func (m *Metadata) Attribute(traitType string) (any, bool) {
	for _, a := range m.Attributes {
		if a.TraitType == traitType {
			return a.Value, true
		}
	}
	return nil, false
}

// IntAttribute returns the named trait as an int.
func (m *Metadata) IntAttribute(traitType string) (int, bool) {
	v, ok := m.Attribute(traitType)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
