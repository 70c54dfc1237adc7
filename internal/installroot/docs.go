package installroot

import (
	"os"

	rpmutils "github.com/sassoftware/go-rpmutils"
)

// rpmFileFlagDoc is RPMFILE_DOC from rpm's file-flags bitmask, stable
// across RPM format versions.
const rpmFileFlagDoc = 1 << 1

// docPaths returns the installed-root-relative paths an RPM header marks
// as documentation, reconstructed from the basenames/dirnames/dirindexes
// triple the RPM header uses to avoid storing full paths twice.
func docPaths(rpm *rpmutils.Rpm) ([]string, error) {
	baseNames, err := getStringSlice(rpm, rpmutils.BASENAMES)
	if err != nil || len(baseNames) == 0 {
		return nil, nil
	}
	dirNames, err := getStringSlice(rpm, rpmutils.DIRNAMES)
	if err != nil {
		return nil, err
	}
	dirIndexes, err := getIntSlice(rpm, rpmutils.DIRINDEXES)
	if err != nil {
		return nil, err
	}
	flags, err := getIntSlice(rpm, rpmutils.FILEFLAGS)
	if err != nil {
		return nil, err
	}

	var paths []string
	for i, base := range baseNames {
		if i >= len(flags) || i >= len(dirIndexes) {
			break
		}
		if flags[i]&rpmFileFlagDoc == 0 {
			continue
		}
		dirIdx := int(dirIndexes[i])
		if dirIdx < 0 || dirIdx >= len(dirNames) {
			continue
		}
		paths = append(paths, dirNames[dirIdx]+base)
	}
	return paths, nil
}

func getStringSlice(rpm *rpmutils.Rpm, tag int) ([]string, error) {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return nil, err
	}
	if s, ok := val.([]string); ok {
		return s, nil
	}
	return nil, nil
}

func getIntSlice(rpm *rpmutils.Rpm, tag int) ([]int32, error) {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return nil, err
	}
	switch v := val.(type) {
	case []int32:
		return v, nil
	case []int:
		out := make([]int32, len(v))
		for i, x := range v {
			out[i] = int32(x)
		}
		return out, nil
	}
	return nil, nil
}

// removeDocs deletes every path in paths, relative to root, tolerating
// paths the package manager never actually laid down (e.g. %doc entries
// for an excluded locale).
func removeDocs(root string, paths []string) error {
	for _, p := range paths {
		if err := os.Remove(joinRoot(root, p)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
