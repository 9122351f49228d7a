// Package cursor encodes opaque keyset pagination cursors for API listings.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Listing names the collection a cursor pages through. A cursor issued for
// one listing is rejected by another.
type Listing string

const (
	ListingTeams Listing = "teams"
	ListingAudit Listing = "audit"
)

// Cursor is the last row seen: its sort key and id.
type Cursor struct {
	Listing Listing `json:"l"`
	Key     string  `json:"k"`
	LastID  string  `json:"id"`
}

// New creates a cursor positioned after the row (key, lastID).
func New(listing Listing, key, lastID string) (*Cursor, error) {
	if lastID == "" {
		return nil, fmt.Errorf("last ID required")
	}
	return &Cursor{Listing: listing, Key: key, LastID: lastID}, nil
}

// Encode serializes the cursor to an opaque base64 string
func (c *Cursor) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode deserializes a cursor issued for listing. An empty string means
// the first page and yields a nil cursor.
func Decode(encoded string, listing Listing) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}
	if c.LastID == "" {
		return nil, fmt.Errorf("cursor missing last ID")
	}
	if c.Listing != listing {
		return nil, fmt.Errorf("cursor was issued for %q, not %q", c.Listing, listing)
	}
	return &c, nil
}

// After returns the keyset position, or empty strings for the first page.
func (c *Cursor) After() (key, id string) {
	if c == nil {
		return "", ""
	}
	return c.Key, c.LastID
}
