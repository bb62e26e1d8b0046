package seal

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// sealDomainKey is a fixed 32-byte key for BLAKE3 keyed hashing. Domain
// separation keeps seal fingerprints from colliding with any other hash
// of the same bytes. The value is the ASCII domain name zero-padded to
// 32 bytes; changing it invalidates every stored fingerprint.
var sealDomainKey = [32]byte{
	'd', 'e', 'a', 'l', 'f', 'l', 'o', 'w', '.', 's', 'e', 'a', 'l', '.', 'v', '1',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Term mirrors one agreement term as it participates in the fingerprint.
type Term struct {
	Label string
	Value string
	Type  string
}

// Document is the sealed content: everything about a deal that the
// fingerprint must make tamper-evident, plus the signature artifact.
type Document struct {
	DealID        string
	PublicID      string
	Title         string
	TemplateRef   string
	CreatorID     string
	RecipientName string
	Terms         []Term
	Signature     string
}

// Fingerprint computes the deal's seal: a keyed BLAKE3 digest over a
// canonical length-prefixed encoding of the document. Identical inputs
// always yield identical output, and any later mutation of a term,
// party, or the signature yields a different value. Once stored on a
// confirmed deal the fingerprint is never recomputed or overwritten.
func Fingerprint(doc Document) string {
	// NewKeyed only errors on a wrong key length, which the fixed-size
	// array rules out.
	h, err := blake3.NewKeyed(sealDomainKey[:])
	if err != nil {
		panic("seal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	writeField(h, doc.DealID)
	writeField(h, doc.PublicID)
	writeField(h, doc.Title)
	writeField(h, doc.TemplateRef)
	writeField(h, doc.CreatorID)
	writeField(h, doc.RecipientName)

	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(doc.Terms)))
	h.Write(count[:])
	for _, term := range doc.Terms {
		writeField(h, term.Label)
		writeField(h, term.Value)
		writeField(h, term.Type)
	}

	writeField(h, doc.Signature)

	return hex.EncodeToString(h.Sum(nil))
}

// writeField emits an 8-byte big-endian length prefix before the bytes so
// adjacent fields can never be confused for one another.
func writeField(h *blake3.Hasher, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
