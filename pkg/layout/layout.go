// Package layout sizes video tiles for a room. Grid mode packs equal
// tiles into the viewport at a fixed aspect ratio; speaker mode gives
// the active speaker the largest tile that fits.
package layout

import (
	"math"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// DefaultAspectRatio is the tile aspect ratio (width over height).
const DefaultAspectRatio = 4.0 / 3.0

// resizeDebounce coalesces bursts of viewport resize events.
const resizeDebounce = 500 * time.Millisecond

// Viewport is the pixel area available for tiles.
type Viewport struct {
	Width  int
	Height int
}

// Grid is the computed layout for a viewport and participant count.
type Grid struct {
	// VideoWidth and VideoHeight size each tile in grid mode.
	VideoWidth  int
	VideoHeight int

	Speaker Speaker
}

// Speaker sizes the main tile in speaker mode and positions the
// self-view thumbnail relative to the viewport edges.
type Speaker struct {
	Width      float64
	Height     float64
	SelfBottom float64
	SelfRight  float64
}

// FindIdealWidth bisects for the largest tile width such that numVideos
// tiles at the given aspect ratio pack into the viewport. It returns 0
// when nothing fits, including when numVideos is 0.
func FindIdealWidth(viewportWidth, viewportHeight, numVideos int, aspectRatio float64) int {
	isValid := func(testWidth int) bool {
		if testWidth > viewportWidth {
			return false
		}
		numColumns := viewportWidth / testWidth
		if numColumns > numVideos {
			numColumns = numVideos
		}
		if numColumns == 0 {
			return false
		}
		numRows := (numVideos + numColumns - 1) / numColumns
		testHeight := int(math.Ceil(float64(testWidth) / aspectRatio))
		return testHeight*numRows <= viewportHeight
	}

	maxFits := 0
	minOver := viewportWidth + 1

	for iterations := 0; minOver > maxFits+1; iterations++ {
		ptr := (maxFits + minOver) / 2
		if isValid(ptr) {
			maxFits = ptr
		} else {
			minOver = ptr
		}

		if iterations > 50 {
			break
		}
	}

	return maxFits
}

// ComputeSpeaker sizes the speaker tile: as wide as the viewport allows
// without the tile's height overflowing it.
func ComputeSpeaker(viewport Viewport, aspectRatio float64) Speaker {
	width := float64(viewport.Width)
	height := float64(viewport.Height)

	speakerWidth := height * aspectRatio
	if speakerWidth > width {
		speakerWidth = width
	}

	return Speaker{
		Width:      speakerWidth,
		Height:     speakerWidth * 3 / 4,
		SelfBottom: (height - speakerWidth/aspectRatio) / 2,
		SelfRight:  (width - speakerWidth) / 2,
	}
}

// Compute lays out numVideos tiles in the viewport.
func Compute(viewport Viewport, numVideos int) Grid {
	width := FindIdealWidth(viewport.Width, viewport.Height, numVideos, DefaultAspectRatio)
	return Grid{
		VideoWidth:  width,
		VideoHeight: width * 3 / 4,
		Speaker:     ComputeSpeaker(viewport, DefaultAspectRatio),
	}
}

// Resizer recomputes the layout as the viewport and participant count
// change. Viewport updates arrive in bursts while a window is dragged,
// so they are debounced; participant changes apply immediately.
type Resizer struct {
	mu        sync.Mutex
	viewport  Viewport
	numVideos int

	debounced func(func())
	emit      func(Grid)
}

// NewResizer creates a Resizer that calls emit with each new layout.
func NewResizer(viewport Viewport, emit func(Grid)) *Resizer {
	r := &Resizer{
		viewport:  viewport,
		debounced: debounce.New(resizeDebounce),
		emit:      emit,
	}
	r.recompute()
	return r
}

// SetViewport records a resize and schedules a debounced recompute.
func (r *Resizer) SetViewport(viewport Viewport) {
	r.mu.Lock()
	r.viewport = viewport
	r.mu.Unlock()
	r.debounced(r.recompute)
}

// SetNumVideos recomputes immediately for the new participant count.
func (r *Resizer) SetNumVideos(numVideos int) {
	r.mu.Lock()
	changed := r.numVideos != numVideos
	r.numVideos = numVideos
	r.mu.Unlock()
	if changed {
		r.recompute()
	}
}

func (r *Resizer) recompute() {
	r.mu.Lock()
	viewport := r.viewport
	numVideos := r.numVideos
	r.mu.Unlock()
	r.emit(Compute(viewport, numVideos))
}
