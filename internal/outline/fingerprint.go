package outline

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a stable digest of a block's content payload. The
// generation merge uses it to detect regenerated blocks whose content is
// unchanged and skip rewriting them.
func Fingerprint(b Block) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(b.ID))
	h.Write([]byte{0})
	h.Write([]byte(b.Type))
	h.Write([]byte{0})
	h.Write(b.Content)
	return hex.EncodeToString(h.Sum(nil))
}
