package directory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c0deZ3R0/dirsync/cursor"
	syncErrors "github.com/c0deZ3R0/dirsync/errors"
)

// noneValue is how an absent enumeration is stored.
const noneValue = "None"

var errMissingID = errors.New("record has no id")

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return syncErrors.NewNormalizeError(fmt.Errorf("decode record: %w", err))
	}
	return nil
}

func missing(field, id string) error {
	err := syncErrors.NewNormalizeError(fmt.Errorf("record %q has no %s", id, field))
	if id == "" {
		err = syncErrors.NewNormalizeError(errMissingID)
	}
	return err
}

// instant requires value to be a parseable timestamp, since it becomes the
// stream's watermark.
func instant(field, id, value string) error {
	if value == "" {
		return missing(field, id)
	}
	if _, err := cursor.ParseInstant(value); err != nil {
		return syncErrors.NewNormalizeError(fmt.Errorf("record %q %s: %w", id, field, err))
	}
	return nil
}

// str returns a nullable string as a document value.
func str(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolean(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func integer(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

// stringify renders any JSON scalar as text. Enumerations are stored this
// way whatever type the API reports them as.
func stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return noneValue
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// jsonValue decodes an arbitrary JSON value, nil when absent.
func jsonValue(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return v
}
