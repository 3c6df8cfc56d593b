package model

import "maps"

// User is a member of the evaluated population. ID is assigned by storage;
// UniqueIdentifier is the caller-chosen business key and must be globally
// unique across the collection.
type User struct {
	ID               string         `json:"id"`
	UniqueIdentifier string         `json:"unique_identifier"`
	Attributes       map[string]any `json:"attributes"`
}

// Clone returns a copy whose attribute map is independent of the receiver.
func (u User) Clone() User {
	c := u
	if u.Attributes != nil {
		c.Attributes = maps.Clone(u.Attributes)
	}
	return c
}

// MergeAttributes lays partial over the user's current attributes: new keys
// override, all others are retained. The receiver is not modified.
func (u User) MergeAttributes(partial map[string]any) map[string]any {
	merged := make(map[string]any, len(u.Attributes)+len(partial))
	maps.Copy(merged, u.Attributes)
	maps.Copy(merged, partial)
	return merged
}
