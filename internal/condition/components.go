package condition

import "image"

// removeSpecks clears 8-connected ink components (pixels == 0) whose area is
// below minArea. g must be bilevel; it is modified in place and returned.
func removeSpecks(g *image.Gray, minArea int) (*image.Gray, int) {
	if minArea <= 1 {
		return g, 0
	}
	w, h := g.Rect.Dx(), g.Rect.Dy()
	visited := make([]bool, w*h)
	queue := make([]int, 0, 256)
	removed := 0

	for start := range visited {
		if visited[start] || g.Pix[(start/w)*g.Stride+start%w] != 0 {
			continue
		}
		queue = append(queue[:0], start)
		visited[start] = true
		for head := 0; head < len(queue); head++ {
			cx, cy := queue[head]%w, queue[head]/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := cx+dx, cy+dy
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					ni := ny*w + nx
					if visited[ni] || g.Pix[ny*g.Stride+nx] != 0 {
						continue
					}
					visited[ni] = true
					queue = append(queue, ni)
				}
			}
		}
		if len(queue) < minArea {
			for _, i := range queue {
				g.Pix[(i/w)*g.Stride+i%w] = 255
			}
			removed++
		}
	}
	return g, removed
}
