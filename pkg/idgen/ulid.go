package idgen

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// MustGenerateSortableID returns a lexically sortable unique string id. Used
// where ids travel as opaque strings (sessions, intent state tokens, jti).
func MustGenerateSortableID() string {
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, rand.Reader)
	if err != nil {
		panic(err)
	}
	return id.String()
}
