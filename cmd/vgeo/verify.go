package main

import (
	"errors"
	"fmt"

	"github.com/Faultbox/vgeo/internal/encode"
	"github.com/Faultbox/vgeo/pkg/archive"
	"github.com/Faultbox/vgeo/pkg/formats"
)

// maxProblems caps the problems collected before verification stops.
const maxProblems = 20

var errVerify = errors.New("verification failed")

type verifyResult struct {
	Pages      int
	Clusters   int
	Triangles  int
	VertexRefs int
}

// verifyArchive decodes every page of a and checks fixups, dependencies and
// hierarchy references against the page table.
func verifyArchive(a *archive.Archive) (verifyResult, error) {
	var r verifyResult
	var problems []error
	report := func(format string, args ...any) bool {
		problems = append(problems, fmt.Errorf(format, args...))
		return len(problems) < maxProblems
	}

	numPages := uint32(a.NumPages())
	nodes := a.HierarchyNodes()
	hdr := a.Header()
	strips := hdr.StripIndices()

	for i := range a.NumPages() {
		for _, dep := range a.Dependencies(i) {
			if dep >= numPages || formats.IsRootPage(dep) || dep == uint32(i) {
				if !report("page %d: bad dependency %d", i, dep) {
					return r, errors.Join(append([]error{errVerify}, problems...)...)
				}
			}
		}

		p, err := a.ReadPage(i)
		if err != nil {
			report("page %d: %w", i, err)
			continue
		}
		clusters, err := encode.DecodePage(p.Data, strips)
		if err != nil {
			report("page %d: %w", i, err)
			continue
		}
		if int(p.Fixups.NumClusters) != len(clusters) {
			report("page %d: fixup chunk has %d clusters, page %d", i, p.Fixups.NumClusters, len(clusters))
		}
		for _, f := range p.Fixups.HierarchyFixups {
			if f.NodeIndex() >= uint32(len(nodes)) {
				report("page %d: hierarchy fixup node %d out of range", i, f.NodeIndex())
			}
			if f.PageIndex >= numPages {
				report("page %d: hierarchy fixup page %d out of range", i, f.PageIndex)
			}
		}
		for _, f := range p.Fixups.ClusterFixups {
			if f.PageIndex() >= numPages {
				report("page %d: cluster fixup page %d out of range", i, f.PageIndex())
			}
		}

		r.Pages++
		for _, c := range clusters {
			r.Clusters++
			r.Triangles += len(c.Indexes) / 3
			r.VertexRefs += c.VertexRefs
		}
	}

	for ni := range nodes {
		for slot, m := range nodes[ni].Misc {
			res := m.ResourcePageIndexNumPagesGroupPartSize
			switch res {
			case formats.EmptySlotResource:
			case formats.InnerNodeResource:
				if m.ChildStartReference >= uint32(len(nodes)) {
					report("node %d slot %d: child %d out of range", ni, slot, m.ChildStartReference)
				}
			default:
				start, num, _ := formats.UnpackLeafResource(res)
				if start+num > numPages {
					report("node %d slot %d: pages [%d, %d) out of range", ni, slot, start, start+num)
				}
			}
		}
	}
	for _, root := range a.HierarchyRoots() {
		if root >= uint32(len(nodes)) {
			report("hierarchy root %d out of range", root)
		}
	}

	if len(problems) > 0 {
		return r, errors.Join(append([]error{errVerify}, problems...)...)
	}
	return r, nil
}
