package model

type ChangeKind int16

const (
	Inserted ChangeKind = iota + 1
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Document is the storage collaborator's record shape: an id-keyed map.
type Document map[string]any

// ID returns the storage-assigned id, or "" when the document carries none.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Change is the normalized payload emitted once per mutation by a change
// feed. Document holds the full changed record for inserts and updates and
// is nil for deletions, which carry only the id.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	Document   Document   `json:"document,omitempty"`
}
