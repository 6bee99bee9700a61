package registration

import "github.com/charbiso/NHP-fMRI-analysis/internal/models"

// PredecessorIndex maps each (volume, slice) unit to the unit whose
// accepted transform seeds its predecessor initialization. Making the
// dependency explicit lets a scheduler either run units sequentially or
// honor the bounded chains per slice-offset class.
type PredecessorIndex struct {
	// SliceOffset is the in-volume predecessor distance (2 for
	// interleaved acquisition, 1 otherwise).
	SliceOffset int

	preds map[models.Key]models.Key
}

// BuildPredecessorIndex constructs the index for an nVol x nSlice run.
// The predecessor of (v, s) is (v, s-offset) when that slice exists;
// otherwise the ladder falls back to (v, 0), then (v-1, 0). Units with no
// predecessor at all are absent from the index.
func BuildPredecessorIndex(nVol, nSlice int, interleaved bool) *PredecessorIndex {
	offset := 1
	if interleaved {
		offset = 2
	}
	idx := &PredecessorIndex{SliceOffset: offset, preds: make(map[models.Key]models.Key)}
	for v := 0; v < nVol; v++ {
		for s := 0; s < nSlice; s++ {
			k := models.Key{Volume: v, Slice: s}
			switch {
			case s-offset >= 0:
				idx.preds[k] = models.Key{Volume: v, Slice: s - offset}
			case s > 0:
				idx.preds[k] = models.Key{Volume: v, Slice: 0}
			case v > 0:
				idx.preds[k] = models.Key{Volume: v - 1, Slice: 0}
			}
		}
	}
	return idx
}

// Predecessor returns the predecessor of k, if any.
func (p *PredecessorIndex) Predecessor(k models.Key) (models.Key, bool) {
	pred, ok := p.preds[k]
	return pred, ok
}

// FallbackChain returns the ordered candidate units whose accepted
// transforms may seed or replace k's transform: the direct predecessor,
// slice 0 of the same volume, then slice 0 of the previous volume.
func (p *PredecessorIndex) FallbackChain(k models.Key) []models.Key {
	var chain []models.Key
	seen := map[models.Key]bool{k: true}
	add := func(c models.Key) {
		if c.Volume >= 0 && c.Slice >= 0 && !seen[c] {
			seen[c] = true
			chain = append(chain, c)
		}
	}
	if pred, ok := p.preds[k]; ok {
		add(pred)
	}
	add(models.Key{Volume: k.Volume, Slice: 0})
	add(models.Key{Volume: k.Volume - 1, Slice: 0})
	return chain
}
