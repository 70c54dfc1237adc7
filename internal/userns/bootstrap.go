package userns

import "os"

// NeedsBootstrap reports whether the current process should re-exec itself
// into a dedicated user namespace before doing any filesystem work: the
// caller is unprivileged and hasn't disabled the mechanism via
// RPMOCI_NO_USERNS.
func NeedsBootstrap() bool {
	if os.Getenv("RPMOCI_NO_USERNS") != "" {
		return false
	}
	if os.Getenv("_RPMOCI_USERNS_CONFIGURED") != "" {
		// Already running inside the namespace created by Bootstrap.
		return false
	}
	return os.Geteuid() != 0
}
