package graph

// Edge is an immutable directed connection from a source handle to a
// target handle. Multiple edges may share a (Source, SourceHandle) pair
// (fan-out); edges that additionally share Target and TargetHandle are
// duplicates and rejected by the validator.
type Edge struct {
	ID           string
	Source       string
	SourceHandle Handle
	Target       string
	TargetHandle Handle
}

// key4 is the 4-tuple duplicate-detection key.
func (e Edge) key4() [4]string {
	return [4]string{e.Source, e.SourceHandle, e.Target, e.TargetHandle}
}

// IsSelfLoop reports whether the edge's source and target are the same
// node (a validator warning, not an error).
func (e Edge) IsSelfLoop() bool { return e.Source == e.Target }
