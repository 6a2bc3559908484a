// Package docs holds helpers shared by the document store backends.
package docs

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"

	"github.com/c0deZ3R0/dirsync/synckit"
)

// MetadataCollection holds one watermark row per stream type.
const MetadataCollection = "fetch_metadata"

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateCollection rejects names that cannot be used as a table or
// collection identifier without quoting tricks.
func ValidateCollection(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	if name == MetadataCollection {
		return fmt.Errorf("collection name %q is reserved", name)
	}
	return nil
}

// Encode serializes a document for storage.
func Encode(doc synckit.Document) ([]byte, error) {
	if doc == nil {
		doc = synckit.Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode parses a stored document.
func Decode(data []byte) (synckit.Document, error) {
	var doc synckit.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = synckit.Document{}
	}
	return doc, nil
}

// Apply returns a copy of doc with fields set on top.
func Apply(doc, fields synckit.Document) synckit.Document {
	out := make(synckit.Document, len(doc)+len(fields))
	maps.Copy(out, doc)
	maps.Copy(out, fields)
	return out
}
