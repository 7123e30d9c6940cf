package jsp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/theater-rt/theater/cmn/cos"
)

// json is the canonical codec used for everything persisted or hashed by
// the core (events, manifests, wire frames): jsoniter in its stdlib-
// compatible config, which sorts map keys and preserves struct field order,
// giving the deterministic encoding hashing depends on.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const signature = "theater"

// Encode writes v as JSON, optionally (opts.Signature) preceded by a
// length-prefixed header carrying the signature, metadata version, and (if
// opts.Checksum) a SHA256 of the payload.
func Encode(w io.Writer, v interface{}, opts Options) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if opts.Signature {
		if err := writeHeader(w, opts, payload); err != nil {
			return err
		}
	}
	_, err = w.Write(payload)
	return err
}

func writeHeader(w io.Writer, opts Options, payload []byte) error {
	var hdr bytes.Buffer
	hdr.WriteString(signature)
	if err := binary.Write(&hdr, binary.BigEndian, int64(opts.Metaver)); err != nil {
		return err
	}
	var cksumLen int64
	var cksumVal string
	if opts.Checksum {
		c := cos.ChecksumBytes(payload)
		cksumVal = c.Value()
		cksumLen = int64(len(cksumVal))
	}
	if err := binary.Write(&hdr, binary.BigEndian, cksumLen); err != nil {
		return err
	}
	if cksumLen > 0 {
		hdr.WriteString(cksumVal)
	}
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(hdr.Len()))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(hdr.Bytes())
	return err
}

// Decode reads back what Encode wrote, verifying the checksum if present
// and returning a *cos.ErrBadCksum on mismatch.
func Decode(r io.Reader, v interface{}, opts Options, path string) (*cos.Cksum, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body := all
	var expected *cos.Cksum
	if opts.Signature {
		if len(all) < 8 {
			return nil, fmt.Errorf("%s: truncated header", path)
		}
		hdrLen := binary.BigEndian.Uint64(all[:8])
		rest := all[8:]
		if uint64(len(rest)) < hdrLen {
			return nil, fmt.Errorf("%s: truncated header body", path)
		}
		hdr := rest[:hdrLen]
		body = rest[hdrLen:]
		if len(hdr) < len(signature)+16 {
			return nil, fmt.Errorf("%s: malformed header", path)
		}
		if string(hdr[:len(signature)]) != signature {
			return nil, fmt.Errorf("%s: bad signature", path)
		}
		off := len(signature) + 8
		cksumLen := binary.BigEndian.Uint64(hdr[off : off+8])
		off += 8
		if cksumLen > 0 {
			expected = cos.NewCksum(cos.ChecksumSHA256, string(hdr[off:off+int(cksumLen)]))
		}
	}
	if expected != nil {
		actual := cos.ChecksumBytes(body)
		if !expected.Equal(actual) {
			return nil, &cos.ErrBadCksum{Expected: expected, Actual: actual}
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, err
	}
	return expected, nil
}
