// Package pathmap translates container-local temp paths to host-visible
// paths, for deployments where the Runner itself runs inside a container
// and shares a control socket with its host's container runtime. A path
// the Runner writes to is not necessarily the path the daemon sees when
// asked to mount a volume at it; PathMap models the (local, host) pair so
// the rest of the Runner never has to think about the distinction.
package pathmap

import "path/filepath"

// PathMap holds the two roots a job's directory is derived from: LocalRoot
// for every file write/read the Runner itself performs, HostRoot for every
// volume mount argument handed to the container runtime.
type PathMap struct {
	LocalRoot string
	HostRoot  string
}

// New creates a PathMap. If hostRoot is empty, it defaults to localRoot
// (the bare-host deployment, where the Runner and the daemon agree on
// paths already).
func New(localRoot, hostRoot string) PathMap {
	if hostRoot == "" {
		hostRoot = localRoot
	}
	return PathMap{LocalRoot: localRoot, HostRoot: hostRoot}
}

// JobPaths is the (local, host) pair for one job's directory, produced by
// joining the same relative subpath onto each root.
type JobPaths struct {
	LocalDir string
	HostDir  string
}

// Job derives the (local, host) pair for a job directory identified by
// jobID, joining jobID as the relative subpath onto both roots.
func (pm PathMap) Job(jobID string) JobPaths {
	return JobPaths{
		LocalDir: filepath.Join(pm.LocalRoot, jobID),
		HostDir:  filepath.Join(pm.HostRoot, jobID),
	}
}

// Sub joins relative onto both the local and host directories of jp,
// producing host-visible and local paths for a subdirectory such as
// "ws" or "out".
func (jp JobPaths) Sub(relative string) JobPaths {
	return JobPaths{
		LocalDir: filepath.Join(jp.LocalDir, relative),
		HostDir:  filepath.Join(jp.HostDir, relative),
	}
}
