// Package layer builds the single OCI image layer an installroot
// produces: a deterministic, gzip-compressed tar stream with stable
// ordering, canonical metadata, and hardlink/xattr fidelity.
package layer

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"

	rpmocidigest "github.com/rpmoci/rpmoci/internal/digest"
)

// paxXattrPrefix is the namespace tar readers look for extended
// attributes under, per https://mgorny.pl/articles/portability-of-tar-features.html#id25.
const paxXattrPrefix = "SCHILY.xattr."

// Result describes the layer that was written: its two digests (needed
// by the config and manifest respectively) and its compressed size.
type Result struct {
	DiffID digest.Digest // SHA-256 of the uncompressed tar stream
	Digest digest.Digest // SHA-256 of the gzip-compressed stream
	Size   int64         // size of the gzip-compressed stream
}

// Write walks root and streams a gzip-compressed tar of its contents to
// dest, hashing the uncompressed and compressed bytes in a single pass.
// mtime is the canonical build timestamp every entry's modification time
// is pinned to.
func Write(root string, mtime time.Time, dest io.Writer) (Result, error) {
	blobTee := rpmocidigest.NewTeeWriter(dest)

	gz, err := pgzip.NewWriterLevel(blobTee, pgzip.BestSpeed)
	if err != nil {
		return Result{}, fmt.Errorf("creating gzip writer: %w", err)
	}
	// A Header with only the OS byte set produces mtime=0 and empty
	// name/comment/extra fields, so identical tar input always yields
	// identical gzip output.
	gz.Header = pgzip.Header{OS: 255}

	diffTee := rpmocidigest.NewTeeWriter(gz)
	tw := tar.NewWriter(diffTee)

	if err := walk(root, mtime, tw); err != nil {
		return Result{}, err
	}
	if err := tw.Close(); err != nil {
		return Result{}, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return Result{}, fmt.Errorf("closing gzip writer: %w", err)
	}

	return Result{
		DiffID: diffTee.Digest(),
		Digest: blobTee.Digest(),
		Size:   blobTee.Size(),
	}, nil
}

// walk emits one tar entry per file under root, in a stable lexicographic
// order with directories preceding their children, tracking (device,
// inode) pairs to emit hardlinks instead of duplicate file bodies.
func walk(root string, mtime time.Time, tw *tar.Writer) error {
	hardlinks := map[[2]uint64]string{}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		if st.Mode&unix.S_IFMT == unix.S_IFSOCK {
			// tar can't represent sockets; skip them like umoci does.
			return nil
		}

		header, err := baseHeader(path, rel, &st, mtime)
		if err != nil {
			return err
		}

		switch st.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			header.Typeflag = tar.TypeDir
			if err := addXattrs(path, header); err != nil {
				return err
			}
			return tw.WriteHeader(header)

		case unix.S_IFLNK:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", path, err)
			}
			header.Typeflag = tar.TypeSymlink
			header.Linkname = target
			if err := addXattrs(path, header); err != nil {
				return err
			}
			return tw.WriteHeader(header)

		case unix.S_IFREG:
			if st.Nlink > 1 {
				key := [2]uint64{uint64(st.Dev), st.Ino}
				if first, seen := hardlinks[key]; seen {
					header.Typeflag = tar.TypeLink
					header.Linkname = first
					header.Size = 0
					if err := addXattrs(path, header); err != nil {
						return err
					}
					return tw.WriteHeader(header)
				}
				hardlinks[key] = rel
			}
			header.Typeflag = tar.TypeReg
			if err := addXattrs(path, header); err != nil {
				return err
			}
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err

		default:
			return nil
		}
	})
}

// baseHeader builds the portion of a tar.Header common to every entry
// type: numeric ownership, on-disk mode, and the canonical mtime.
func baseHeader(path, rel string, st *unix.Stat_t, mtime time.Time) (*tar.Header, error) {
	return &tar.Header{
		Name:    rel,
		Mode:    int64(st.Mode & 0o7777),
		Uid:     int(st.Uid),
		Gid:     int(st.Gid),
		Size:    st.Size,
		ModTime: mtime,
		Format:  tar.FormatPAX,
	}, nil
}

// addXattrs reads a path's extended attributes and records them as PAX
// extension records under the SCHILY.xattr. namespace -- archive/tar
// emits the extension header for us once PAXRecords is non-empty.
func addXattrs(path string, header *tar.Header) error {
	size, err := unix.Llistxattr(path, nil)
	if err != nil || size <= 0 {
		return nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return fmt.Errorf("listing xattrs of %s: %w", path, err)
	}
	names := splitNullTerminated(buf[:n])
	sort.Strings(names)

	for _, name := range names {
		vsize, err := unix.Lgetxattr(path, name, nil)
		if err != nil || vsize < 0 {
			continue
		}
		val := make([]byte, vsize)
		vn, err := unix.Lgetxattr(path, name, val)
		if err != nil {
			return fmt.Errorf("reading xattr %s of %s: %w", name, path, err)
		}
		if header.PAXRecords == nil {
			header.PAXRecords = map[string]string{}
		}
		header.PAXRecords[paxXattrPrefix+name] = string(val[:vn])
	}
	return nil
}

func splitNullTerminated(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
