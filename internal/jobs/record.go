package jobs

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString decodes a JSON string or number into its string form. The
// remote API emits string ids for document stores and numeric ids for SQL
// backends.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// Objects, arrays and booleans are not identifiers; leave the field
		// empty so validation rejects the record instead of the whole batch.
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// FileRef is the attached source file of a mesh record.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Record is a mesh as returned by the remote API. Every field is optional.
type Record struct {
	ID        FlexString `json:"id"`
	LegacyID  FlexString `json:"_id"`
	File      *FileRef   `json:"file"`
	Processed bool       `json:"processed"`
}

// UnmarshalJSON implements json.Unmarshaler. A field of the wrong type, or
// an element that is not an object at all, decodes to its zero value so one
// malformed mesh is rejected by Validate instead of failing its whole batch.
func (r *Record) UnmarshalJSON(data []byte) error {
	*r = Record{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	_ = r.ID.UnmarshalJSON(fields["id"])
	_ = r.LegacyID.UnmarshalJSON(fields["_id"])
	if raw := bytes.TrimSpace(fields["file"]); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var ref FileRef
		if err := json.Unmarshal(raw, &ref); err == nil {
			r.File = &ref
		}
	}
	if raw := fields["processed"]; raw != nil {
		_ = json.Unmarshal(raw, &r.Processed)
	}
	return nil
}

// Identifier returns the record id, falling back to the legacy _id field.
func (r Record) Identifier() string {
	if id := strings.TrimSpace(string(r.ID)); id != "" {
		return id
	}
	return strings.TrimSpace(string(r.LegacyID))
}
