package ipc

import (
	"fmt"
	"path/filepath"
)

// Path templates from spec §6 — well-known unix datagram socket paths
// derived from (name, role, index).
func LsnPath(runDir string) string              { return filepath.Join(runDir, "lsn.usck") }
func RsvrPath(runDir string, i int) string       { return filepath.Join(runDir, fmt.Sprintf("rsvr_%d.usck", i)) }
func WorkerPath(runDir string, i int) string     { return filepath.Join(runDir, fmt.Sprintf("worker_%d.usck", i)) }
func DsvrPath(runDir string) string              { return filepath.Join(runDir, "dsvr.usck") }
func LockPath(runDir string) string              { return filepath.Join(runDir, "server.lock") }
