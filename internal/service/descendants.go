package service

import (
	"github.com/shirou/gopsutil/v4/process"
)

// DescendantLister enumerates the live descendant subtree of a process.
// Enumeration is a capability, not a requirement: a nil lister restricts
// shutdown cleanup to the tracked child handle.
type DescendantLister interface {
	Descendants(pid int32) ([]int32, error)
}

// ProcessTreeLister walks the OS process table breadth-first from a root
// pid. Children that vanish mid-walk are skipped; the walk is a best-effort
// snapshot, never a lock on the tree.
type ProcessTreeLister struct{}

func (ProcessTreeLister) Descendants(pid int32) ([]int32, error) {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	var out []int32
	seen := map[int32]bool{pid: true}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			// Leaf, or gone between enumeration and inspection.
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c.Pid)
			queue = append(queue, c)
		}
	}
	return out, nil
}
