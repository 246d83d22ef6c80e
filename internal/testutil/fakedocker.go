// Package testutil provides a fake Docker-CLI-compatible binary for tests
// so the suite never requires a real container runtime to be present.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// script is a minimal shell stand-in for the `docker` binary. It only
// understands the subset of commands the Runner issues:
//
//   - "info"                          -> exit 0 (daemon reachable)
//   - "image inspect <img>"           -> exit 0 unless img is "missing:image"
//   - "run ... -v host:/workspace:rw -v host:/output:rw ... <img> bash <containerScriptPath>"
//     -> rewrites /workspace and /output references in the script to their
//     real host-side directories (taken from the -v mappings) and execs
//     it directly on the host, since there is no real container to mount
//     volumes into.
//   - "kill <name>"                   -> exit 0 (no real container to kill)
const script = `#!/bin/sh
set -e
case "$1" in
  info)
    exit 0
    ;;
  image)
    if [ "$2" = "inspect" ] && [ "$3" = "missing:image" ]; then
      exit 1
    fi
    exit 0
    ;;
  kill)
    exit 0
    ;;
  run)
    shift
    workspace_host=""
    output_host=""
    container_script=""
    while [ $# -gt 0 ]; do
      case "$1" in
        -v)
          shift
          mapping="$1"
          host="${mapping%%:*}"
          rest="${mapping#*:}"
          container="${rest%%:*}"
          if [ "$container" = "/workspace" ]; then
            workspace_host="$host"
          elif [ "$container" = "/output" ]; then
            output_host="$host"
          fi
          ;;
        *)
          container_script="$1"
          ;;
      esac
      shift
    done
    real_script="$workspace_host${container_script#/workspace}"
    rewritten="$(mktemp)"
    sed -e "s#/workspace#$workspace_host#g" -e "s#/output#$output_host#g" "$real_script" > "$rewritten"
    exec bash "$rewritten"
    ;;
  *)
    exit 1
    ;;
esac
`

// WriteFakeDocker writes a fake "docker" executable into a fresh temp
// directory and prepends that directory to PATH for the duration of the
// test.
func WriteFakeDocker(t *testing.T) (binDir string) {
	t.Helper()

	dir := t.TempDir()
	binPath := filepath.Join(dir, "docker")
	if err := os.WriteFile(binPath, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake docker: %v", err)
	}

	origPath := os.Getenv("PATH")
	t.Setenv("PATH", dir+":"+origPath)

	return dir
}
