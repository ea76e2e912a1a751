package ges

// ObjectIdentifier names a source entity a projection consumes events from.
type ObjectIdentifier struct {
	ObjectName string
	ObjectID   string
}

// VersionIdentifier names the last version of a stream a projection has
// applied.
type VersionIdentifier struct {
	StreamIdentifier string
	Version          int
}

// Checkpoint is the minimal contract a projection consumer needs: the last
// applied event per source entity. Delivery fan-out beyond this contract is
// out of scope for the core (spec.md §1).
type Checkpoint map[ObjectIdentifier]VersionIdentifier

// Clone returns a shallow copy of c, safe to mutate independently.
func (c Checkpoint) Clone() Checkpoint {
	out := make(Checkpoint, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Advance records that streamID/version is now the last-applied position
// for (objectName, objectId), returning a new Checkpoint (c is untouched).
func (c Checkpoint) Advance(objectName, objectID, streamID string, version int) Checkpoint {
	out := c.Clone()
	out[ObjectIdentifier{ObjectName: objectName, ObjectID: objectID}] = VersionIdentifier{
		StreamIdentifier: streamID,
		Version:          version,
	}
	return out
}
