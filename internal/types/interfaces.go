package types

// SnapshotStore durably keeps the full queue state.
type SnapshotStore interface {
	Save(snapshot *Snapshot) error
	Load() (*Snapshot, error)
}

// SizeProbe estimates the size in bytes of a knowledge artifact.
type SizeProbe interface {
	Size(ref string) (int64, error)
}

// SizeProbeFunc adapts a function to SizeProbe.
type SizeProbeFunc func(ref string) (int64, error)

func (f SizeProbeFunc) Size(ref string) (int64, error) {
	return f(ref)
}
