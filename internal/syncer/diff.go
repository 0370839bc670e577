package syncer

import "strings"

// Diff compares source against destination with a linear merge walk over the
// two path ordered snapshots. Only content fingerprints decide modification.
func Diff(source, destination *Snapshot) *ChangeSet {
	cs := NewChangeSet()

	src, dst := source.files, destination.files
	i, j := 0, 0
	for i < len(src) && j < len(dst) {
		switch c := strings.Compare(src[i].Path, dst[j].Path); {
		case c < 0:
			cs.Added[src[i].Path] = src[i]
			i++
		case c > 0:
			cs.Deleted.Add(dst[j].Path)
			j++
		default:
			if src[i].Fingerprint != dst[j].Fingerprint {
				cs.Modified[src[i].Path] = Modification{Old: dst[j], New: src[i]}
			}
			i++
			j++
		}
	}
	for ; i < len(src); i++ {
		cs.Added[src[i].Path] = src[i]
	}
	for ; j < len(dst); j++ {
		cs.Deleted.Add(dst[j].Path)
	}

	return cs
}
