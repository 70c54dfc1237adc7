package vendorstore

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	rpmutils "github.com/sassoftware/go-rpmutils"
)

// VerifySignature checks an RPM's header/payload signature against a
// keyring. We check directly against the package bytes with go-rpmutils'
// signature verification instead of shelling out to rpm, since we
// already hold the keyring as an in-memory openpgp.EntityList built by
// internal/repo.BuildKeyring.
func VerifySignature(path string, keyring openpgp.EntityList) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for signature verification: %w", path, err)
	}
	defer f.Close()

	if _, _, err := rpmutils.Verify(f, keyring); err != nil {
		return fmt.Errorf("verifying signature of %s: %w", path, err)
	}
	return nil
}
