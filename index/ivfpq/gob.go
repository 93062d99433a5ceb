package ivfpq

import (
	"bytes"
	"encoding/gob"
	"math/rand"
	"time"

	"github.com/knnlabs/annidx/quantization"
)

// GobEncode implements gob.GobEncoder.
func (ix *IVFPQ) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(ix.opts); err != nil {
		return nil, err
	}
	if err := enc.Encode(ix.centroids); err != nil {
		return nil, err
	}

	trained := ix.Trained()
	if err := enc.Encode(trained); err != nil {
		return nil, err
	}
	if trained {
		if err := enc.Encode(ix.pq); err != nil {
			return nil, err
		}
		if err := enc.Encode(ix.cells); err != nil {
			return nil, err
		}
	}

	if err := enc.Encode(ix.count); err != nil {
		return nil, err
	}
	if err := enc.Encode(ix.nextID); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
// It fully initializes the receiver, so decoding into a zero value is valid.
func (ix *IVFPQ) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	if err := dec.Decode(&ix.opts); err != nil {
		return err
	}
	if err := dec.Decode(&ix.centroids); err != nil {
		return err
	}

	var trained bool
	if err := dec.Decode(&trained); err != nil {
		return err
	}
	ix.pq = nil
	ix.cells = nil
	if trained {
		ix.pq = new(quantization.ProductQuantizer)
		if err := dec.Decode(ix.pq); err != nil {
			return err
		}
		if err := dec.Decode(&ix.cells); err != nil {
			return err
		}
	}

	if err := dec.Decode(&ix.count); err != nil {
		return err
	}
	if err := dec.Decode(&ix.nextID); err != nil {
		return err
	}

	seed := time.Now().UnixNano()
	if ix.opts.RandomSeed != nil {
		seed = *ix.opts.RandomSeed
	}
	ix.rng = rand.New(rand.NewSource(seed))

	return nil
}
