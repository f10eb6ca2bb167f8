package addons

import "path"

// Entry is a snapshot of a single directory entry used for
// normalization planning.
type Entry struct {
	Name  string
	IsDir bool
}

// Move is a planned rename with paths relative to the bundle root.
type Move struct {
	From string
	To   string
}

// hasMarker reports whether any of the names is a module manifest marker.
func hasMarker(names []string) bool {
	for _, n := range names {
		if n == ManifestMarker || n == LegacyManifestMarker {
			return true
		}
	}

	return false
}

// planWrapperFlatten detects an incidental wrapper directory: the bundle
// root holds exactly one visible entry, it is a directory, and that
// directory is not itself a module. The returned moves lift the wrapper's
// children to the root; the caller removes the emptied wrapper.
//
// entries are the bundle root entries, children the entries of the sole
// visible directory. Hidden (dot-prefixed) root entries are ignored, as
// archive exports commonly add them.
func planWrapperFlatten(entries []Entry, children []string) (wrapper string, moves []Move) {
	var visible []Entry

	for _, e := range entries {
		if len(e.Name) > 0 && e.Name[0] != '.' {
			visible = append(visible, e)
		}
	}

	if len(visible) != 1 || !visible[0].IsDir {
		return "", nil
	}

	if hasMarker(children) {
		return "", nil
	}

	wrapper = visible[0].Name
	for _, c := range children {
		moves = append(moves, Move{From: path.Join(wrapper, c), To: c})
	}

	return wrapper, moves
}

// planNest detects a flat single-module layout: a manifest marker sits
// directly at the bundle root. The returned moves relocate every root
// entry into the synthetic module directory so the bundle always
// presents one directory per module.
func planNest(names []string) []Move {
	if !hasMarker(names) {
		return nil
	}

	var moves []Move

	for _, n := range names {
		if n == SyntheticModuleDir {
			continue
		}

		moves = append(moves, Move{From: n, To: path.Join(SyntheticModuleDir, n)})
	}

	return moves
}
