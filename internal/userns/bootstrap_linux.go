//go:build linux

package userns

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// contFDEnv names the environment variable used to tell the re-exec'd
// child which inherited file descriptor it must drain before continuing:
// the parent holds the write end open until the uid/gid maps are in
// place, so a read returning EOF means "namespace is ready".
const contFDEnv = "_RPMOCI_USERNS_CONT_FD"

// configuredEnv marks a process as already running inside the namespace
// Bootstrap created, so a re-exec of the same argv doesn't recurse.
const configuredEnv = "_RPMOCI_USERNS_CONFIGURED"

// Bootstrap re-executes argv inside a new user namespace mapping the
// caller's uid/gid to 0 and the caller's subuid/subgid allocation to
// 1..N, waits for it to exit, and returns its exit code.
func Bootstrap(ctx context.Context, argv []string) (int, error) {
	uidAlloc, err := ReadSubUIDAllocation()
	if err != nil {
		return 0, fmt.Errorf("reading subuid allocation: %w", err)
	}
	gidAlloc, err := ReadSubGIDAllocation()
	if err != nil {
		return 0, fmt.Errorf("reading subgid allocation: %w", err)
	}
	if uidAlloc.Total < minSubIDs {
		return 0, fmt.Errorf("at least %d subuids must be configured for the current user in %s (found %d)", minSubIDs, etcSubuid, uidAlloc.Total)
	}
	if gidAlloc.Total < minSubIDs {
		return 0, fmt.Errorf("at least %d subgids must be configured for the current group in %s (found %d)", minSubIDs, etcSubgid, gidAlloc.Total)
	}

	contR, contW, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("creating continuation pipe: %w", err)
	}
	defer contR.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = append(os.Environ(), configuredEnv+"=done", contFDEnv+"=3")
	cmd.ExtraFiles = []*os.File{contR}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWUSER,
	}

	if err := cmd.Start(); err != nil {
		contW.Close()
		return 0, fmt.Errorf("starting process in new user namespace: %w", err)
	}
	pid := cmd.Process.Pid

	uid := strconv.Itoa(os.Geteuid())
	gid := strconv.Itoa(os.Getegid())

	if err := runIDMapTool(ctx, "newuidmap", pid, uid, uidAlloc); err != nil {
		contW.Close()
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("configuring uid map: %w", err)
	}
	if err := runIDMapTool(ctx, "newgidmap", pid, gid, gidAlloc); err != nil {
		contW.Close()
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("configuring gid map: %w", err)
	}

	// Closing our copy of the write end lets the child's read of fd 3
	// observe EOF and proceed now that both maps are in place.
	if err := contW.Close(); err != nil {
		return 0, err
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("waiting for namespaced process: %w", err)
	}
	return 0, nil
}

// runIDMapTool execs newuidmap/newgidmap against pid, mapping outerID to
// 0 and the subordinate allocation to 1..N.
func runIDMapTool(ctx context.Context, tool string, pid int, outerID string, alloc Allocation) error {
	path, err := exec.LookPath(tool)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: %w", tool, err)
	}
	args := idMapArgs(pid, outerID, alloc)
	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", tool, args, err, out)
	}
	return nil
}

// WaitForReady blocks until the parent process has finished configuring
// this process's uid/gid maps. It is a no-op when the process was not
// started by Bootstrap. Call it as the very first thing in main().
func WaitForReady() error {
	fdStr := os.Getenv(contFDEnv)
	if fdStr == "" {
		return nil
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", contFDEnv, err)
	}
	f := os.NewFile(uintptr(fd), "userns-cont")
	defer f.Close()
	buf := make([]byte, 1)
	for {
		n, err := f.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
}
