// Package idgen generates document ids for collections declaring
// id.auto: ulid | uuid | nanoid.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/schema"
)

// nanoidAlphabet is the default alphabet used by the reference nanoid
// implementation; no nanoid library exists anywhere in the example
// corpus, so this generator is a small hand-rolled stand-in (see
// DESIGN.md) kept intentionally tiny: one function, stdlib crypto/rand.
const nanoidAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

const nanoidDefaultSize = 21

// Generate produces a new id string for the given auto-id kind.
func Generate(kind schema.AutoID) (string, error) {
	switch kind {
	case schema.AutoIDULID:
		return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(), nil
	case schema.AutoIDUUID:
		return uuid.NewString(), nil
	case schema.AutoIDNanoID:
		return nanoid(nanoidDefaultSize)
	default:
		return "", grounddb.Errorf(grounddb.SchemaErr, "unknown id.auto kind %q", kind)
	}
}

func nanoid(size int) (string, error) {
	alphabetLen := big.NewInt(int64(len(nanoidAlphabet)))
	buf := make([]byte, size)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("nanoid: %w", err)
		}
		buf[i] = nanoidAlphabet[n.Int64()]
	}
	return string(buf), nil
}
