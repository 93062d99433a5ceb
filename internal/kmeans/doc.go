// Package kmeans implements Lloyd's k-means over flattened float32 vectors.
//
// It is the single clustering procedure in the module: the inverted-file
// indexes use it as their coarse quantizer and the product quantizer runs it
// per segment with small k.
package kmeans
