package kv

// VersionKey is the entry whose presence marks a handle as already on the
// current schema. Migration hooks are gated on this key so re-running them
// against an up-to-date database is a no-op.
var VersionKey = []byte("version")

// CurrentVersion is the schema version string written by Migrate.
const CurrentVersion = "1"

// IsMigrated reports whether h already carries the version marker.
func (h *Handle) IsMigrated() (bool, error) {
	return h.Has(VersionKey)
}

// Migrate runs migrate gated on the version marker: if the marker is
// already present, migrate is not called and Migrate returns (false, nil).
// Otherwise migrate performs the schema-specific rewrite through the
// Handle it was given and Migrate then writes the marker. The rewrite and
// the marker write are separate write transactions, not one: if the
// marker write fails after migrate succeeded, the rewrite stays applied
// without the marker.
func (h *Handle) Migrate(migrate func(h *Handle) error) (ran bool, err error) {
	done, err := h.IsMigrated()
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	if err := migrate(h); err != nil {
		return false, err
	}
	if err := h.Write(VersionKey, []byte(CurrentVersion)); err != nil {
		return false, err
	}
	return true, nil
}
