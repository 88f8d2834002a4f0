package tracking

// Vector is a position or direction in millimetres, device space.
type Vector struct {
	X, Y, Z float32
}

// Hand is the per-frame hand record. The kinematic model lives elsewhere;
// the pipeline only needs identity and timing.
type Hand struct {
	ID         int32
	FrameID    int64
	Timestamp  int64
	IsLeft     bool
	Confidence float32
	Palm       Vector
}

// Finger is a tracked finger attached to a hand.
type Finger struct {
	ID     int32
	HandID int32
	Type   int32
	Tip    Vector
}

// Tool is a tracked pointable that is not a finger.
type Tool struct {
	ID     int32
	Tip    Vector
	Length float32
}

// Frame is one tracking cycle's assembled snapshot. The dispatch loop
// mutates it only while it waits in the pending queue; once released into
// the frame history it is never written again.
type Frame struct {
	ID        int64 // driver assigned, monotonically increasing
	Timestamp int64 // microseconds, driver clock
	IsValid   bool

	Hands   []Hand
	Fingers []Finger
	Tools   []Tool

	Images      []Image // zero to two stereo images
	RawImages   []Image // zero to two raw stereo images
	TrackedQuad TrackedQuad
}

// InvalidFrame is the sentinel returned when no frame is available.
func InvalidFrame() Frame {
	return Frame{ID: -1}
}

// ImageFormat describes the pixel layout of an image.
type ImageFormat int32

const (
	FormatUnknown ImageFormat = iota
	FormatIR
	FormatRGBIRBayer
)

// Perspective identifies the camera that produced an image.
type Perspective int32

const (
	PerspectiveInvalid Perspective = iota
	PerspectiveStereoLeft
	PerspectiveStereoRight
	PerspectiveMono
)

// String returns a short name for logs.
func (p Perspective) String() string {
	switch p {
	case PerspectiveStereoLeft:
		return "left"
	case PerspectiveStereoRight:
		return "right"
	case PerspectiveMono:
		return "mono"
	default:
		return "invalid"
	}
}

// ImageType separates processed images from raw sensor images.
type ImageType int32

const (
	ImageTypeDefault ImageType = iota
	ImageTypeRaw
)

// DistortionGridSize is the edge length of every calibration grid.
const DistortionGridSize = 64

// DistortionData is an immutable calibration grid holding an x/y warp pair
// for each of Width*Height points.
type DistortionData struct {
	Version uint64
	Width   int
	Height  int
	Data    []float32
}

// Image is a camera image promoted from a filled pool buffer.
//
// Data of an image read from the image history aliases a pooled buffer and
// stays valid until the image leaves that history; callers that keep pixels
// longer must Clone the image. Images inside released frames own their
// pixels.
type Image struct {
	ID         int64 // owning frame id
	SequenceID int64 // shared by the two images of one stereo capture
	Side       int32 // 0 primary (left), nonzero secondary
	IsValid    bool

	Type          ImageType
	Format        ImageFormat
	Perspective   Perspective
	Width         int
	Height        int
	BytesPerPixel int
	Data          []byte

	RayOffsetX, RayOffsetY float32
	RayScaleX, RayScaleY   float32

	Distortion *DistortionData // shared, owned by the distortion cache

	slot    *ImageData
	slotAge uint64
}

// InvalidImage is the sentinel returned when no image is available.
func InvalidImage() Image {
	return Image{ID: -1, SequenceID: -1}
}

// IsLeft reports whether the image is the primary side of its pair.
func (img Image) IsLeft() bool {
	return img.Side == 0
}

// Clone returns a copy whose pixels no longer alias the pool.
func (img Image) Clone() Image {
	out := img
	out.Data = append([]byte(nil), img.Data...)
	out.slot = nil
	out.slotAge = 0
	return out
}

// ImageData is the pool-managed payload backing an Image. The pixel buffer
// is reallocated only when the required size changes.
type ImageData struct {
	Pixels []byte

	FrameID       int64
	Type          ImageType
	Format        ImageFormat
	Width         int
	Height        int
	BytesPerPixel int

	poolIndex int
	age       uint64
}

// NewImageData returns an empty buffer for the image pool.
func NewImageData() *ImageData {
	return &ImageData{poolIndex: -1}
}

// PoolAge implements pool.Item. Zero means free.
func (d *ImageData) PoolAge() uint64 { return d.age }

// SetPoolAge implements pool.Item.
func (d *ImageData) SetPoolAge(age uint64) { d.age = age }

// PoolIndex implements pool.Item.
func (d *ImageData) PoolIndex() int { return d.poolIndex }

// SetPoolIndex implements pool.Item.
func (d *ImageData) SetPoolIndex(index int) { d.poolIndex = index }

// prepare describes the next image and sizes the pixel buffer for it.
func (d *ImageData) prepare(req ImageRequestEvent) {
	size := req.Width * req.Height * req.BytesPerPixel
	if size < 0 {
		size = 0
	}
	if len(d.Pixels) != size {
		d.Pixels = make([]byte, size)
	}
	d.FrameID = req.FrameID
	d.Type = req.Type
	d.Format = req.Format
	d.Width = req.Width
	d.Height = req.Height
	d.BytesPerPixel = req.BytesPerPixel
}

// TrackedQuad is a planar surface tracked alongside a frame.
type TrackedQuad struct {
	ID         int64 // owning frame id
	Timestamp  int64
	IsValid    bool
	Width      float32
	Height     float32
	Resolution uint32
	Visible    bool
	Position   Vector
	Rotation   [9]float32
}

// InvalidQuad is the sentinel returned when no quad is available.
func InvalidQuad() TrackedQuad {
	return TrackedQuad{ID: -1}
}

// DeviceInfo describes an attached tracking device.
type DeviceInfo struct {
	ID           uint32
	SerialNumber string
	Product      string
	Status       uint32
	Streaming    bool
}
