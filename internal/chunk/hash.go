package chunk

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/google/uuid"
)

// ErrBlankHash rejects point ID derivation from an empty chunk hash, which
// would silently collapse every broken chunk onto one point.
var ErrBlankHash = errors.New("blank chunk hash")

// Hash derives the stable identity of one chunk from its source URL, window
// index, and exact text: sha256(url + "#" + index + ":" + text) as lowercase
// hex. Any change to the text moves the hash.
func Hash(url string, index int, text string) string {
	sum := sha256.Sum256([]byte(url + "#" + strconv.Itoa(index) + ":" + text))
	return hex.EncodeToString(sum[:])
}

// PointID maps a chunk hash onto the deterministic UUID used as the vector
// point ID. The hash string is digested with MD5 and stamped as a version 3
// UUID so re-ingesting the same chunk always lands on the same point.
func PointID(hash string) (string, error) {
	if hash == "" {
		return "", ErrBlankHash
	}
	u := uuid.UUID(md5.Sum([]byte(hash)))
	u[6] = (u[6] & 0x0f) | 0x30
	u[8] = (u[8] & 0x3f) | 0x80
	return u.String(), nil
}
