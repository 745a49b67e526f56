package export

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// WriteCBOR encodes docs as a single CBOR array.
func WriteCBOR(w io.Writer, docs []Doc) error {
	return cbor.NewEncoder(w).Encode(docs)
}

// ReadCBOR decodes what WriteCBOR produced.
func ReadCBOR(r io.Reader) ([]Doc, error) {
	var docs []Doc
	if err := cbor.NewDecoder(r).Decode(&docs); err != nil {
		return nil, err
	}
	return docs, nil
}
