package registry

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// GeneratePublicID returns a fresh 9-digit public identifier: a time-based
// prefix plus a cryptographically-sourced suffix. The format satisfies the
// external identifier contract (^\d{3,9}$). Uniqueness is enforced by the
// store's constraint; the generator only makes collisions improbable.
func GeneratePublicID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", eris.Wrap(err, "registry: read random suffix")
	}
	prefix := time.Now().Unix() % 10000
	suffix := binary.BigEndian.Uint32(buf[:]) % 100000
	return fmt.Sprintf("%04d%05d", prefix, suffix), nil
}
