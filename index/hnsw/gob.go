package hnsw

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"time"

	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/vectorstore"
)

// GobEncode implements gob.GobEncoder.
func (h *HNSW) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(h.opts); err != nil {
		return nil, err
	}
	if err := enc.Encode(h.entry); err != nil {
		return nil, err
	}
	if err := enc.Encode(h.maxLayer); err != nil {
		return nil, err
	}
	if err := enc.Encode(h.nodes); err != nil {
		return nil, err
	}
	if err := enc.Encode(h.vectors); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
// It fully initializes the receiver, so decoding into a zero value is valid.
func (h *HNSW) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	if err := dec.Decode(&h.opts); err != nil {
		return err
	}
	if err := dec.Decode(&h.entry); err != nil {
		return err
	}
	if err := dec.Decode(&h.maxLayer); err != nil {
		return err
	}
	if err := dec.Decode(&h.nodes); err != nil {
		return err
	}
	h.vectors = new(vectorstore.Store)
	if err := dec.Decode(h.vectors); err != nil {
		return err
	}

	h.distFunc = index.NewDistanceFunc(h.opts.Metric)
	h.mmax = h.opts.M
	h.mmax0 = mmax0Multiplier * h.opts.M
	h.ml = 1 / math.Log(float64(h.opts.M))

	seed := time.Now().UnixNano()
	if h.opts.RandomSeed != nil {
		seed = *h.opts.RandomSeed
	}
	h.rng = rand.New(rand.NewSource(seed))

	return nil
}
