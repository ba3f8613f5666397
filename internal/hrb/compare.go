package hrb

// Comparison is the difference between a local and a remote snapshot of the
// same collection. Content identity is the only comparison key: an ObjectID
// present on both sides is synchronized regardless of its metadata.
type Comparison struct {
	// Upload holds entries only the local side has, with local metadata.
	Upload *Collection
	// Download holds entries only the remote side has, with remote metadata.
	Download *Collection
	// Drift lists ObjectIDs present on both sides whose metadata differs.
	// It is informational; no transfer is derived from it.
	Drift []Drift
}

// Drift describes one ObjectID whose entries disagree between sides.
type Drift struct {
	ID     ObjectID
	Local  CollEntry
	Remote CollEntry
}

// Compare computes the symmetric difference of the key sets of local and
// remote. Both outputs carry the remote collection's owner and name. Neither
// input is modified.
func Compare(local, remote *Collection) *Comparison {
	cmp := &Comparison{
		Upload:   NewCollection(remote.Owner(), remote.Name()),
		Download: NewCollection(remote.Owner(), remote.Name()),
	}

	for id, le := range local.entries {
		re, ok := remote.entries[id]
		if !ok {
			cmp.Upload.Add(id, le)
			continue
		}
		if le != re {
			cmp.Drift = append(cmp.Drift, Drift{ID: id, Local: le, Remote: re})
		}
	}
	for id, re := range remote.entries {
		if !local.Has(id) {
			cmp.Download.Add(id, re)
		}
	}
	return cmp
}

// Empty reports whether nothing needs to be transferred.
func (c *Comparison) Empty() bool {
	return c.Upload.Len() == 0 && c.Download.Len() == 0
}
