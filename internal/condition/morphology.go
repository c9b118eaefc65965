package condition

import "image"

// Kernel shapes for the morphological filters.
type kernel int

const (
	kernelSquare kernel = iota
	kernelCross
)

// offsets lists the neighbourhood of a size x size kernel. Even sizes anchor
// at the lower-right of centre, as OpenCV does.
func offsets(size int, shape kernel) [][2]int {
	lo := -(size / 2)
	hi := lo + size - 1
	var out [][2]int
	for dy := lo; dy <= hi; dy++ {
		for dx := lo; dx <= hi; dx++ {
			if shape == kernelCross && dx != 0 && dy != 0 {
				continue
			}
			out = append(out, [2]int{dx, dy})
		}
	}
	return out
}

// rankFilter replaces each pixel with the minimum (or maximum) over the
// kernel neighbourhood. Out-of-bounds neighbours are ignored.
func rankFilter(g *image.Gray, offs [][2]int, takeMin bool) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			best := g.Pix[y*g.Stride+x]
			for _, o := range offs {
				nx, ny := x+o[0], y+o[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				v := g.Pix[ny*g.Stride+nx]
				if (takeMin && v < best) || (!takeMin && v > best) {
					best = v
				}
			}
			out.Pix[y*w+x] = best
		}
	}
	return out
}

// dilateInk grows dark strokes: a minimum filter, since ink is dark.
func dilateInk(g *image.Gray, size, iterations int) *image.Gray {
	if size <= 1 || iterations <= 0 {
		return g
	}
	offs := offsets(size, kernelSquare)
	for range iterations {
		g = rankFilter(g, offs, true)
	}
	return g
}

// closeInk grows then shrinks ink with a cross kernel, joining strokes broken
// by gaps narrower than the kernel.
func closeInk(g *image.Gray, size int) *image.Gray {
	if size <= 1 {
		return g
	}
	offs := offsets(size, kernelCross)
	return rankFilter(rankFilter(g, offs, true), offs, false)
}
