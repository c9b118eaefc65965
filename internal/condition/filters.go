package condition

import (
	"image"
	"math"
)

// gaussianKernel returns a normalized 1D kernel of the given odd size. A
// non-positive sigma is derived from the size the way OpenCV does.
func gaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*((float64(size)-1)*0.5-1) + 0.8
	}
	half := size / 2
	k := make([]float64, size)
	var sum float64
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// separable convolves src (w x h) with k horizontally then vertically,
// replicating border pixels.
func separable(src []float64, w, h int, k []float64) []float64 {
	half := len(k) / 2
	tmp := make([]float64, len(src))
	for y := range h {
		row := src[y*w : (y+1)*w]
		for x := range w {
			var acc float64
			for i, kv := range k {
				xx := min(max(x+i-half, 0), w-1)
				acc += kv * row[xx]
			}
			tmp[y*w+x] = acc
		}
	}
	out := make([]float64, len(src))
	for y := range h {
		for x := range w {
			var acc float64
			for i, kv := range k {
				yy := min(max(y+i-half, 0), h-1)
				acc += kv * tmp[yy*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out
}

func toPlane(g *image.Gray) ([]float64, int, int) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	p := make([]float64, w*h)
	for y := range h {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, v := range row {
			p[y*w+x] = float64(v)
		}
	}
	return p, w, h
}

// adaptiveThreshold binarizes g against a Gaussian-weighted local mean:
// pixels brighter than mean-c become white (255), the rest ink (0).
func adaptiveThreshold(g *image.Gray, block int, c float64) *image.Gray {
	src, w, h := toPlane(g)
	mean := separable(src, w, h, gaussianKernel(block, 0))
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range src {
		if v > mean[i]-c {
			out.Pix[i] = 255
		}
	}
	return out
}

// bilateral smooths g while preserving edges. d is the neighbourhood
// diameter; sigmaColor and sigmaSpace weight intensity and distance.
func bilateral(g *image.Gray, d int, sigmaColor, sigmaSpace float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	radius := d / 2
	type tap struct {
		dx, dy int
		wt     float64
	}
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			if r2 > float64(radius*radius) {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(-r2 / (2 * sigmaSpace * sigmaSpace))})
		}
	}
	var colorWt [256]float64
	for i := range colorWt {
		colorWt[i] = math.Exp(-float64(i*i) / (2 * sigmaColor * sigmaColor))
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			center := int(g.Pix[y*g.Stride+x])
			var sum, norm float64
			for _, t := range taps {
				xx := min(max(x+t.dx, 0), w-1)
				yy := min(max(y+t.dy, 0), h-1)
				v := int(g.Pix[yy*g.Stride+xx])
				diff := v - center
				if diff < 0 {
					diff = -diff
				}
				wt := t.wt * colorWt[diff]
				sum += wt * float64(v)
				norm += wt
			}
			out.Pix[y*w+x] = uint8(math.Round(sum / norm))
		}
	}
	return out
}

// clahe equalizes contrast per tile with a clipped histogram and blends
// neighbouring tile mappings bilinearly.
func clahe(g *image.Gray, clipLimit float64, tilesX, tilesY int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	tilesX, tilesY = max(1, min(tilesX, w)), max(1, min(tilesY, h))
	tw := (w + tilesX - 1) / tilesX
	th := (h + tilesY - 1) / tilesY

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := range tilesY {
		for tx := range tilesX {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)
			luts[ty*tilesX+tx] = tileLUT(g, x0, y0, x1, y1, clipLimit)
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := min(ty0+1, tilesY-1)
		ty0 = max(ty0, 0)
		for x := range w {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := min(tx0+1, tilesX-1)
			tx0 = max(tx0, 0)

			v := g.Pix[y*g.Stride+x]
			top := (1-wx)*float64(luts[ty0*tilesX+tx0][v]) + wx*float64(luts[ty0*tilesX+tx1][v])
			bot := (1-wx)*float64(luts[ty1*tilesX+tx0][v]) + wx*float64(luts[ty1*tilesX+tx1][v])
			out.Pix[y*w+x] = uint8(math.Round((1-wy)*top + wy*bot))
		}
	}
	return out
}

func tileLUT(g *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	area := (x1 - x0) * (y1 - y0)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[g.Pix[y*g.Stride+x]]++
		}
	}
	var lut [256]uint8
	if area == 0 {
		return lut
	}
	limit := max(1, int(clipLimit*float64(area)/256))
	excess := 0
	for i, c := range hist {
		if c > limit {
			excess += c - limit
			hist[i] = limit
		}
	}
	bonus, rem := excess/256, excess%256
	for i := range hist {
		hist[i] += bonus
		if i < rem {
			hist[i]++
		}
	}
	scale := 255 / float64(area)
	cum := 0
	for i, c := range hist {
		cum += c
		lut[i] = uint8(min(255, math.Round(float64(cum)*scale)))
	}
	return lut
}

// otsu returns the threshold maximizing between-class variance of g.
func otsu(g *image.Gray) uint8 {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := range h {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}
	total := w * h
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}
	var sumB, best float64
	wB, thresh := 0, 0
	for t, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * c)
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		v := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if v > best {
			best, thresh = v, t
		}
	}
	return uint8(thresh)
}
