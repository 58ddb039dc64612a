package gallery

import "fmt"

// ApplyUpdate merges one slot result into the gallery and recomputes progress
// and status. The slot status is always replaced; the other fields only when set.
func (m *Metadata) ApplyUpdate(u ImageUpdate) error {
	if u.Index < 1 || u.Index > TotalImages {
		return fmt.Errorf("%w: got %d", ErrInvalidImageIndex, u.Index)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}

	m.normalizeSlots()
	slot := m.Image(u.Index)

	slot.Status = u.Status
	if u.RequestID != "" {
		slot.RequestID = u.RequestID
	}
	if u.WebURL != "" {
		slot.WebURL = u.WebURL
	}
	if u.PrintURL != "" {
		slot.PrintURL = u.PrintURL
	}
	if u.OriginalURL != "" {
		slot.OriginalURL = u.OriginalURL
	}
	if u.Error != "" {
		slot.Error = u.Error
	}
	if u.Status == ImageCompleted {
		slot.Error = ""
	}

	m.Recompute()
	return nil
}

// Recompute derives progress and status from the slots. A gallery is
// complete when every slot completed, partial when every slot is terminal
// but some failed, and generating otherwise.
func (m *Metadata) Recompute() {
	var completed, failed, generating int
	for _, img := range m.Images {
		switch img.Status {
		case ImageCompleted:
			completed++
		case ImageFailed:
			failed++
		case ImageGenerating:
			generating++
		}
	}

	m.Progress = Progress{
		Completed:  completed,
		Total:      TotalImages,
		Failed:     failed,
		Generating: generating,
	}

	switch {
	case completed == TotalImages:
		m.Status = StatusComplete
	case completed+failed == TotalImages:
		m.Status = StatusPartial
	default:
		m.Status = StatusGenerating
	}
}

// normalizeSlots makes sure exactly one slot exists per index, in order.
// Documents written by older versions may carry fewer slots or stray indices.
func (m *Metadata) normalizeSlots() {
	byIndex := make(map[int]Image, TotalImages)
	for _, img := range m.Images {
		if img.Index < 1 || img.Index > TotalImages {
			continue
		}
		if !img.Status.Valid() {
			img.Status = ImagePending
		}
		byIndex[img.Index] = img
	}

	slots := make([]Image, 0, TotalImages)
	for i := 1; i <= TotalImages; i++ {
		img, ok := byIndex[i]
		if !ok {
			img = Image{Index: i, Status: ImagePending}
		}
		slots = append(slots, img)
	}
	m.Images = slots
}
