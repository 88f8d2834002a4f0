package tracking

import "github.com/banshee-data/motionframe/internal/ring"

// ImageBuffer is the image history with stereo pairing lookups.
type ImageBuffer struct {
	*ring.Buffer[Image]
}

// NewImageBuffer creates an image history of the given capacity.
func NewImageBuffer(capacity int) *ImageBuffer {
	return &ImageBuffer{Buffer: ring.New[Image](capacity)}
}

// LatestImages returns the newest complete stereo pair.
func (b *ImageBuffer) LatestImages() (left, right Image, ok bool) {
	return b.findPair(func(Image) bool { return true })
}

// ImagesForFrame returns the stereo pair captured for frameID.
func (b *ImageBuffer) ImagesForFrame(frameID int64) (left, right Image, ok bool) {
	return b.findPair(func(img Image) bool { return img.SequenceID == frameID })
}

// findPair scans newest to oldest for a candidate accepted by match, then
// searches older entries for its partner. Images arrive in non-increasing
// sequence order, so meeting a strictly newer sequence id while looking for
// a partner ends the whole search.
func (b *ImageBuffer) findPair(match func(Image) bool) (left, right Image, ok bool) {
	left, right = InvalidImage(), InvalidImage()

	b.View(func(at func(int) (Image, bool), count int) {
		for i := 0; i < count; i++ {
			first, _ := at(i)
			if !match(first) {
				continue
			}
			for j := i + 1; j < count; j++ {
				next, _ := at(j)
				if next.SequenceID == first.SequenceID {
					if next.Side == first.Side && next.ID == first.ID {
						// duplicate delivery of the same capture
						continue
					}
					if first.IsLeft() {
						left, right = first, next
					} else {
						left, right = next, first
					}
					ok = true
					return
				}
				if next.SequenceID > first.SequenceID {
					return
				}
			}
		}
	})
	return left, right, ok
}

// imagesWithID collects the images already delivered for frameID, one per
// side, left first.
func (b *ImageBuffer) imagesWithID(frameID int64) []Image {
	var out []Image
	b.View(func(at func(int) (Image, bool), count int) {
		for i := 0; i < count && len(out) < 2; i++ {
			img, _ := at(i)
			if img.ID != frameID {
				continue
			}
			dup := false
			for _, have := range out {
				dup = dup || have.Side == img.Side
			}
			if !dup {
				out = addImage(out, img)
			}
		}
	})
	return out
}
