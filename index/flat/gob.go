package flat

import (
	"bytes"
	"encoding/gob"

	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/vectorstore"
)

// GobEncode implements gob.GobEncoder.
func (f *Flat) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(f.opts); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.vectors); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
// It fully initializes the receiver, so decoding into a zero value is valid.
func (f *Flat) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	if err := dec.Decode(&f.opts); err != nil {
		return err
	}
	f.vectors = new(vectorstore.Store)
	if err := dec.Decode(f.vectors); err != nil {
		return err
	}

	f.distFunc = index.NewDistanceFunc(f.opts.Metric)

	return nil
}
