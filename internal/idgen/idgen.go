// Package idgen provides the identifier generators used for capture sessions
// and outbound analysis requests.
//
// Session identifiers only need to be distinct between attempts that share a
// working directory; they are embedded in artifact file names.
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Timestamped returns a Generator producing "<unix millis>_<suffix>" where
// suffix comes from the inner generator. now may be nil (time.Now).
func Timestamped(now func() time.Time, gen Generator) Generator {
	if now == nil {
		now = time.Now
	}
	return func() string {
		return strconv.FormatInt(now().UnixMilli(), 10) + "_" + gen()
	}
}

// Session is the generator for capture session identifiers.
var Session Generator = Timestamped(nil, NanoID(6))

// Request is the generator for outbound request identifiers.
var Request Generator = UUIDv7()

// NewSession produces a capture session identifier.
func NewSession() string {
	return Session()
}

// NewRequest produces a request identifier.
func NewRequest() string {
	return Request()
}
