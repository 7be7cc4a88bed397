package signing

import (
	"crypto/sha512"
	"encoding/hex"
	"sort"
	"strings"
)

// Param is one key/value pair of a signed parameter set.
type Param struct {
	Key   string
	Value string
}

// ConnectionChecksum is the token a client must present when opening a
// websocket: sha512 over the raw concatenation of user name, meeting ID and
// the shared secret. The issuer side computes the same digest.
func ConnectionChecksum(userName, meetingID, secret string) string {
	sum := sha512.Sum512([]byte(userName + meetingID + secret))
	return hex.EncodeToString(sum[:])
}

// Checksum signs an ordered parameter set for an outbound callback.
// Params are canonicalised (sorted by key, joined as "k=v" with "&"),
// prefixed with the action name and suffixed with the secret before hashing,
// so both sides can reproduce the digest independent of map iteration order.
func Checksum(params []Param, secret, action string) string {
	sorted := make([]Param, len(params))
	copy(sorted, params)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(action)
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	b.WriteString(secret)

	sum := sha512.Sum512([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
