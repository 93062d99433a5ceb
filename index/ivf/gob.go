package ivf

import (
	"bytes"
	"encoding/gob"
	"math/rand"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/vectorstore"
)

// GobEncode implements gob.GobEncoder. Cell bitmaps use the portable roaring
// serialization.
func (ivf *IVF) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(ivf.opts); err != nil {
		return nil, err
	}
	if err := enc.Encode(ivf.centroids); err != nil {
		return nil, err
	}

	trained := ivf.Trained()
	if err := enc.Encode(trained); err != nil {
		return nil, err
	}
	if trained {
		cells := make([][]byte, len(ivf.cells))
		for i, cell := range ivf.cells {
			b, err := cell.ToBytes()
			if err != nil {
				return nil, err
			}
			cells[i] = b
		}
		if err := enc.Encode(cells); err != nil {
			return nil, err
		}
	}

	if err := enc.Encode(ivf.vectors); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
// It fully initializes the receiver, so decoding into a zero value is valid.
func (ivf *IVF) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	if err := dec.Decode(&ivf.opts); err != nil {
		return err
	}
	if err := dec.Decode(&ivf.centroids); err != nil {
		return err
	}

	var trained bool
	if err := dec.Decode(&trained); err != nil {
		return err
	}
	ivf.cells = nil
	if trained {
		var cells [][]byte
		if err := dec.Decode(&cells); err != nil {
			return err
		}
		ivf.cells = make([]*roaring.Bitmap, len(cells))
		for i, b := range cells {
			bm := roaring.New()
			if err := bm.UnmarshalBinary(b); err != nil {
				return err
			}
			ivf.cells[i] = bm
		}
	}

	ivf.vectors = new(vectorstore.Store)
	if err := dec.Decode(ivf.vectors); err != nil {
		return err
	}

	ivf.distFunc = index.NewDistanceFunc(ivf.opts.Metric)

	seed := time.Now().UnixNano()
	if ivf.opts.RandomSeed != nil {
		seed = *ivf.opts.RandomSeed
	}
	ivf.rng = rand.New(rand.NewSource(seed))

	return nil
}
