// Package pstree renders the server's process subtree from /proc. The
// stats endpoint uses it to show the Chromium children the service has
// spawned. Linux only; other platforms get an empty tree.
package pstree

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Proc is one process node.
type Proc struct {
	PID  int
	PPID int
	Name string
}

// Snapshot reads /proc and returns all visible processes keyed by pid.
func Snapshot() (map[int]Proc, error) {
	return snapshot("/proc")
}

func snapshot(procRoot string) (map[int]Proc, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, err
	}
	procs := make(map[int]Proc, len(entries))
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "status"))
		if err != nil {
			// Processes may exit between readdir and read.
			continue
		}
		p, ok := parseStatus(string(raw))
		if !ok || p.PID != pid {
			continue
		}
		procs[pid] = p
	}
	return procs, nil
}

// parseStatus pulls Name, Pid and PPid out of a /proc/<pid>/status
// body.
func parseStatus(body string) (Proc, bool) {
	var p Proc
	var haveName, havePid, havePPid bool
	for _, line := range strings.Split(body, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			p.Name = value
			haveName = true
		case "Pid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Proc{}, false
			}
			p.PID = n
			havePid = true
		case "PPid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Proc{}, false
			}
			p.PPID = n
			havePPid = true
		}
		if haveName && havePid && havePPid {
			return p, true
		}
	}
	return Proc{}, false
}

// Render formats the subtree rooted at pid as indented "- name #pid"
// lines, children sorted by pid. The root is rendered at depth zero.
func Render(procs map[int]Proc, root int) string {
	children := make(map[int][]int, len(procs))
	for pid, p := range procs {
		if pid == root {
			continue
		}
		children[p.PPID] = append(children[p.PPID], pid)
	}
	for _, pids := range children {
		sort.Ints(pids)
	}

	var b strings.Builder
	var walk func(pid, depth int)
	walk = func(pid, depth int) {
		p, ok := procs[pid]
		if !ok {
			return
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("- ")
		b.WriteString(p.Name)
		b.WriteString(" #")
		b.WriteString(strconv.Itoa(p.PID))
		b.WriteString("\n")
		for _, child := range children[pid] {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	return b.String()
}

// Self renders the current process's subtree.
func Self() (string, error) {
	procs, err := Snapshot()
	if err != nil {
		return "", err
	}
	return Render(procs, os.Getpid()), nil
}
