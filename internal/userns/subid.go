// Package userns implements the unprivileged re-exec bootstrap a rootless
// build needs: reading the caller's subuid/subgid allocation, unsharing
// into a new user namespace with an appropriate id map, and re-executing
// the original command inside it.
package userns

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
)

const (
	etcSubuid = "/etc/subuid"
	etcSubgid = "/etc/subgid"

	// minSubIDs is the smallest subuid/subgid allocation rpmoci will
	// bootstrap with.
	minSubIDs = 1000
)

// IDRange is a contiguous range of subordinate ids, as found in
// /etc/subuid or /etc/subgid.
type IDRange struct {
	Start uint32
	Count uint32
}

// Allocation is the full set of subordinate ranges available to a user or
// group, plus their total count.
type Allocation struct {
	Ranges []IDRange
	Total  uint32
}

// ReadSubIDRanges parses an /etc/subuid or /etc/subgid-formatted stream,
// returning every range belonging to id or name.
func ReadSubIDRanges(r io.Reader, id, name string) (Allocation, error) {
	var alloc Allocation
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] != id && (name == "" || parts[0] != name) {
			continue
		}
		start, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			continue
		}
		count, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			continue
		}
		alloc.Ranges = append(alloc.Ranges, IDRange{Start: uint32(start), Count: uint32(count)})
		alloc.Total += uint32(count)
	}
	if err := sc.Err(); err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

// ReadSubUIDAllocation reads the current user's /etc/subuid allocation.
func ReadSubUIDAllocation() (Allocation, error) {
	u, err := user.Current()
	if err != nil {
		return Allocation{}, fmt.Errorf("looking up current user: %w", err)
	}
	f, err := os.Open(etcSubuid)
	if err != nil {
		return Allocation{}, fmt.Errorf("opening %s: %w", etcSubuid, err)
	}
	defer f.Close()
	return ReadSubIDRanges(f, u.Uid, u.Username)
}

// ReadSubGIDAllocation reads the current user's primary group's
// /etc/subgid allocation.
func ReadSubGIDAllocation() (Allocation, error) {
	u, err := user.Current()
	if err != nil {
		return Allocation{}, fmt.Errorf("looking up current user: %w", err)
	}
	g, err := user.LookupGroupId(u.Gid)
	groupName := ""
	if err == nil {
		groupName = g.Name
	}
	f, err := os.Open(etcSubgid)
	if err != nil {
		return Allocation{}, fmt.Errorf("opening %s: %w", etcSubgid, err)
	}
	defer f.Close()
	return ReadSubIDRanges(f, u.Gid, groupName)
}

// idMapArgs builds the newuidmap/newgidmap argument list that maps the
// caller's id to 0 inside the namespace and the subordinate range to
// 1..N, mirroring subid.rs's newidmap_args.
func idMapArgs(pid int, outerID string, alloc Allocation) []string {
	args := []string{strconv.Itoa(pid), "0", outerID, "1"}
	next := uint32(1)
	for _, rng := range alloc.Ranges {
		args = append(args, strconv.FormatUint(uint64(next), 10), strconv.FormatUint(uint64(rng.Start), 10), strconv.FormatUint(uint64(rng.Count), 10))
		next += rng.Count
	}
	return args
}
