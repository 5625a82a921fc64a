package faceapi

import "time"

// Valid reports whether the box is well formed (right >= left, bottom >= top).
// The server is the source of truth; callers only use this to skip
// obviously broken boxes.
func (l FaceLocation) Valid() bool {
	return l.Right >= l.Left && l.Bottom >= l.Top
}

// Width returns the box width, or 0 for an invalid box.
func (l FaceLocation) Width() int {
	return max(l.Right-l.Left, 0)
}

// Height returns the box height, or 0 for an invalid box.
func (l FaceLocation) Height() int {
	return max(l.Bottom-l.Top, 0)
}

// IoU calculates Intersection over Union between two face boxes.
func (l FaceLocation) IoU(other FaceLocation) float64 {
	if !l.Valid() || !other.Valid() {
		return 0
	}

	x1 := max(l.Left, other.Left)
	y1 := max(l.Top, other.Top)
	x2 := min(l.Right, other.Right)
	y2 := min(l.Bottom, other.Bottom)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := float64((x2 - x1) * (y2 - y1))
	union := float64(l.Width()*l.Height()+other.Width()*other.Height()) - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// MatchHistory returns the id of the history entry whose face box overlaps loc
// the most, provided the overlap reaches threshold. Ties go to the entry with
// the newest timestamp, whatever order the server listed them in.
func MatchHistory(loc FaceLocation, history []HistoryEntry, threshold float64) (int, bool) {
	bestID, bestIoU := 0, 0.0
	var bestTime time.Time
	for _, entry := range history {
		iou := loc.IoU(entry.FaceLocation)
		if iou <= 0 || iou < bestIoU {
			continue
		}
		t := entry.Time()
		if iou == bestIoU && !t.After(bestTime) {
			continue
		}
		bestID, bestIoU, bestTime = entry.ID, iou, t
	}
	if bestIoU < threshold || bestIoU == 0 {
		return 0, false
	}
	return bestID, true
}
