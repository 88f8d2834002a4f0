package tracking

import "testing"

func img(id, seq int64, side int32) Image {
	return Image{ID: id, SequenceID: seq, Side: side, IsValid: true}
}

func TestImageBuffer_LatestPairFromTwoSides(t *testing.T) {
	b := NewImageBuffer(20)
	b.Put(img(100, 100, 0))
	b.Put(img(100, 100, 1))

	left, right, ok := b.LatestImages()
	if !ok {
		t.Fatal("LatestImages found no pair")
	}
	if left.Side != 0 || right.Side != 1 {
		t.Errorf("sides = (%d, %d), want (0, 1)", left.Side, right.Side)
	}
	if left.SequenceID != 100 || right.SequenceID != 100 {
		t.Errorf("sequence ids = (%d, %d), want 100", left.SequenceID, right.SequenceID)
	}
}

func TestImageBuffer_RightFirstStillPairsLeftRight(t *testing.T) {
	b := NewImageBuffer(4)
	b.Put(img(5, 5, 1))
	b.Put(img(5, 5, 0))

	left, right, ok := b.LatestImages()
	if !ok || !left.IsLeft() || right.IsLeft() {
		t.Errorf("got left side %d right side %d ok=%v", left.Side, right.Side, ok)
	}
}

func TestImageBuffer_ImagesForFrame(t *testing.T) {
	b := NewImageBuffer(20)
	// Alternating sides, sequence ids in delivery order.
	for seq := int64(1); seq <= 6; seq++ {
		b.Put(img(seq, seq, 0))
		b.Put(img(seq, seq, 1))
	}

	for seq := int64(1); seq <= 6; seq++ {
		left, right, ok := b.ImagesForFrame(seq)
		if !ok {
			t.Errorf("ImagesForFrame(%d) not found", seq)
			continue
		}
		if left.SequenceID != seq || right.SequenceID != seq {
			t.Errorf("ImagesForFrame(%d) = (%d, %d)", seq, left.SequenceID, right.SequenceID)
		}
		if left.Side != 0 || right.Side != 1 {
			t.Errorf("ImagesForFrame(%d) sides = (%d, %d)", seq, left.Side, right.Side)
		}
	}
}

func TestImageBuffer_NotFoundYieldsInvalidImages(t *testing.T) {
	b := NewImageBuffer(8)
	b.Put(img(1, 1, 0))
	b.Put(img(1, 1, 1))

	tests := []struct {
		name string
		find func() (Image, Image, bool)
	}{
		{"missing frame", func() (Image, Image, bool) { return b.ImagesForFrame(42) }},
		{"empty buffer", func() (Image, Image, bool) { return NewImageBuffer(4).LatestImages() }},
		{"single image", func() (Image, Image, bool) {
			single := NewImageBuffer(4)
			single.Put(img(3, 3, 0))
			return single.LatestImages()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, right, ok := tt.find()
			if ok {
				t.Fatal("found a pair")
			}
			if left.IsValid || right.IsValid || left.ID != -1 || right.ID != -1 {
				t.Errorf("not invalid sentinels: %+v %+v", left, right)
			}
		})
	}
}

func TestImageBuffer_NewerSequenceEndsSearch(t *testing.T) {
	b := NewImageBuffer(8)
	// Newest first in the scan: seq 5 (single), then seq 9, then seq 5's
	// partner. The partner sits behind a strictly newer sequence, so the
	// search gives up rather than pairing across it.
	b.Put(img(5, 5, 1))
	b.Put(img(9, 9, 0))
	b.Put(img(5, 5, 0))

	if _, _, ok := b.ImagesForFrame(5); ok {
		t.Error("paired across a newer sequence id")
	}
}

func TestImageBuffer_SkipsDuplicateDelivery(t *testing.T) {
	b := NewImageBuffer(8)
	b.Put(img(4, 4, 1))
	b.Put(img(4, 4, 0))
	b.Put(img(4, 4, 0)) // duplicate left

	left, right, ok := b.ImagesForFrame(4)
	if !ok {
		t.Fatal("pair not found")
	}
	if left.Side != 0 || right.Side != 1 {
		t.Errorf("sides = (%d, %d), want (0, 1)", left.Side, right.Side)
	}
}

func TestImageBuffer_LatestSkipsUnpairedNewest(t *testing.T) {
	b := NewImageBuffer(8)
	b.Put(img(1, 1, 0))
	b.Put(img(1, 1, 1))
	b.Put(img(2, 2, 0)) // partner not yet delivered

	left, _, ok := b.LatestImages()
	if !ok || left.SequenceID != 1 {
		t.Errorf("got seq %d ok=%v, want pair 1", left.SequenceID, ok)
	}
}

func TestImageBuffer_ImagesWithID(t *testing.T) {
	b := NewImageBuffer(8)
	b.Put(img(3, 3, 1))
	b.Put(img(4, 4, 0))
	b.Put(img(3, 3, 0))

	got := b.imagesWithID(3)
	if len(got) != 2 || !got[0].IsLeft() || got[1].Side != 1 {
		t.Errorf("imagesWithID(3) = %+v", got)
	}
	if got := b.imagesWithID(8); len(got) != 0 {
		t.Errorf("imagesWithID(8) = %+v, want none", got)
	}
}
