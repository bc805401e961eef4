package indexer

import (
	"os"
	"path/filepath"

	"github.com/spacedriveapp/sdcore/internal/jobqueue"
)

// runDiscovery executes Phase 1 (§4.1 Phase 1): a breadth-first walk of the
// root, evaluating the IndexerRuler at each child and batching accepted
// entries in BFS order (directories strictly before their children) for
// Phase 2.
func (j *IndexerJob) runDiscovery(ctx *jobqueue.Context, p *persistedJobState) error {
	st := p.State
	cfg := p.Config

	var pending []DirEntry

	flush := func() {
		if len(pending) == 0 {
			return
		}

		st.Batches = append(st.Batches, PendingBatch{Entries: pending})
		pending = nil
	}

	for len(st.DiscoveryQueue) > 0 {
		if err := ctx.CheckInterrupt(); err != nil {
			return err
		}

		dir := st.DiscoveryQueue[0]
		st.DiscoveryQueue = st.DiscoveryQueue[1:]

		canonical, err := filepath.Abs(dir)
		if err != nil {
			st.Stats.Errors++
			st.Errs = append(st.Errs, "abs path "+dir+": "+err.Error())
			continue
		}

		// Cycle protection: skip a canonical path already walked (§4.1 Phase 1).
		if st.SeenPaths[canonical] {
			continue
		}

		st.SeenPaths[canonical] = true

		children, err := os.ReadDir(dir)
		if err != nil {
			st.Stats.Errors++
			st.Errs = append(st.Errs, "read dir "+dir+": "+err.Error())
			continue
		}

		for _, c := range children {
			childPath := filepath.Join(dir, c.Name())

			info, err := c.Info()
			if err != nil {
				st.Stats.Errors++
				st.Errs = append(st.Errs, "stat "+childPath+": "+err.Error())
				continue
			}

			isDir := c.IsDir()
			isSymlink := info.Mode()&os.ModeSymlink != 0

			var dirChildNames []string

			if isDir {
				if grandchildren, err := os.ReadDir(childPath); err == nil {
					dirChildNames = make([]string, 0, len(grandchildren))
					for _, g := range grandchildren {
						dirChildNames = append(dirChildNames, g.Name())
					}
				}
			}

			if j.ruler.Evaluate(childPath, isDir, dirChildNames) == Reject {
				continue
			}

			kind := "file"

			switch {
			case isSymlink:
				kind = "symlink"
			case isDir:
				kind = "directory"
			}

			pending = append(pending, DirEntry{
				Path:       childPath,
				Name:       c.Name(),
				Kind:       kind,
				Size:       info.Size(),
				ModifiedAt: info.ModTime().UnixNano(),
				ParentPath: dir,
			})

			switch kind {
			case "directory":
				st.Stats.Dirs++

				// Do not follow symlinks into new territory; directories
				// discovered through a real walk are enqueued, but only
				// for a Recursive scope (§4.1 Configuration: scope).
				if cfg.Scope == ScopeRecursive {
					st.DiscoveryQueue = append(st.DiscoveryQueue, childPath)
				}
			case "symlink":
				st.Stats.Symlinks++
			default:
				st.Stats.Files++
				st.Stats.Bytes += info.Size()
			}

			if len(pending) >= cfg.BatchSize {
				flush()
			}
		}

		if cfg.Scope == ScopeCurrent {
			break
		}
	}

	flush()

	st.Phase = PhaseProcessing

	return nil
}
