package domain

import "fmt"

// Effects describes what the registry must do after a reduction
type Effects struct {
	// Changed is false when the event was a no-op
	Changed bool
	// Index and Item describe the updated row, Index is -1 when a row was removed
	Index int
	Item  *DownloadItem
	// ListChanged is set when rows were added or removed
	ListChanged   bool
	RecomputeSize bool
	Failure       *DownloadErrorPayload
	// Unresolved is set when the event targeted an item that does not exist
	Unresolved bool
}

func noEffects() Effects {
	return Effects{Index: -1}
}

// Reduce applies one event to the list. The input slice and its items are
// never modified; a changed list is returned as a new slice.
func Reduce(items []DownloadItem, ev Event) ([]DownloadItem, Effects) {
	switch ev.Kind {
	case EventProgress:
		return updateAt(items, findStream(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			return applyPercent(item, ev.Percent)
		})

	case EventStateChanged:
		idx := findStream(items, ev.ID)
		if idx < 0 {
			fx := noEffects()
			fx.Unresolved = true
			if ev.State == StateFailed {
				fx.Failure = &DownloadErrorPayload{
					ID:      ev.ID,
					State:   StateFailed,
					Message: failureMessage(ev, "download failed for an item missing from the local list"),
				}
			}
			return items, fx
		}
		if ev.State == StateRemoving {
			return removeAt(items, idx, false)
		}
		if !ev.State.Valid() {
			return items, noEffects()
		}
		return updateAt(items, idx, func(item *DownloadItem, fx *Effects) bool {
			if item.OfflineData.State == ev.State {
				return false
			}
			item.OfflineData.State = ev.State
			switch ev.State {
			case StateCompleted:
				fx.RecomputeSize = true
			case StateFailed:
				failed := item.Clone()
				fx.Failure = &DownloadErrorPayload{
					ID:      item.URI(),
					State:   StateFailed,
					Message: failureMessage(ev, "download failed"),
					Item:    &failed,
				}
			}
			return true
		})

	case EventLicenseReleased:
		idx := FindBySrc(items, ev.Manifest)
		if idx < 0 {
			fx := noEffects()
			fx.Unresolved = true
			return items, fx
		}
		return removeAt(items, idx, false)

	case EventBinaryStart:
		return updateAt(items, FindByID(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			if item.OfflineData.State == StateDownloading {
				return false
			}
			item.OfflineData.State = StateDownloading
			return true
		})

	case EventBinaryProgress:
		return updateAt(items, FindByID(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			if !applyPercent(item, ev.Percent) {
				return false
			}
			item.OfflineData.State = StateDownloading
			return true
		})

	case EventBinaryCompleted:
		return updateAt(items, FindByID(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			if item.OfflineData.State == StateCompleted {
				return false
			}
			item.OfflineData.State = StateCompleted
			item.OfflineData.Percent = 100
			fx.RecomputeSize = true
			return true
		})

	case EventBinaryError:
		return updateAt(items, FindByID(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			if item.OfflineData.State == StateFailed {
				return false
			}
			item.OfflineData.State = StateFailed
			fx.RecomputeSize = true
			failed := item.Clone()
			fx.Failure = &DownloadErrorPayload{
				ID:      item.OfflineData.Source.ID,
				State:   StateFailed,
				Message: failureMessage(ev, "binary download failed"),
				Item:    &failed,
			}
			return true
		})

	case EventBinaryPaused:
		// A paused transfer restarts from zero
		return updateAt(items, FindByID(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			switch item.OfflineData.State {
			case StateCompleted, StateStopped:
				return false
			}
			item.OfflineData.State = StateStopped
			item.OfflineData.Percent = 0
			return true
		})

	case EventBinaryRemoved:
		idx := FindByID(items, ev.ID)
		if idx < 0 {
			fx := noEffects()
			fx.Unresolved = true
			return items, fx
		}
		return removeAt(items, idx, true)

	case EventItemAdded:
		if ev.Item == nil || FindBySrc(items, ev.Item.URI()) >= 0 {
			return items, noEffects()
		}
		out := make([]DownloadItem, len(items), len(items)+1)
		copy(out, items)
		added := ev.Item.Clone()
		out = append(out, added)
		return out, Effects{Changed: true, Index: len(out) - 1, Item: &added, ListChanged: true}

	case EventSessionJoined:
		return updateAt(items, FindBySrc(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			return item.AddSession(ev.UserID)
		})

	case EventSessionLeft:
		return updateAt(items, FindBySrc(items, ev.ID), func(item *DownloadItem, fx *Effects) bool {
			return item.RemoveSession(ev.UserID)
		})

	case EventItemDeleted:
		idx := FindBySrc(items, ev.ID)
		if idx < 0 {
			return items, noEffects()
		}
		return removeAt(items, idx, true)
	}

	return items, noEffects()
}

func findStream(items []DownloadItem, id string) int {
	if idx := FindBySrc(items, id); idx >= 0 {
		return idx
	}
	return FindByID(items, id)
}

// applyPercent ignores zero, negative and unchanged values, and a decrease
// while the item is downloading
func applyPercent(item *DownloadItem, percent float64) bool {
	if percent <= 0 {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	current := item.OfflineData.Percent
	if percent == current {
		return false
	}
	if item.OfflineData.State == StateDownloading && percent < current {
		return false
	}
	item.OfflineData.Percent = percent
	return true
}

func updateAt(items []DownloadItem, idx int, mutate func(*DownloadItem, *Effects) bool) ([]DownloadItem, Effects) {
	fx := noEffects()
	if idx < 0 {
		fx.Unresolved = true
		return items, fx
	}
	updated := items[idx].Clone()
	if !mutate(&updated, &fx) {
		fx.Failure = nil
		fx.RecomputeSize = false
		return items, fx
	}
	out := make([]DownloadItem, len(items))
	copy(out, items)
	out[idx] = updated
	fx.Changed = true
	fx.Index = idx
	fx.Item = &updated
	return out, fx
}

func removeAt(items []DownloadItem, idx int, recompute bool) ([]DownloadItem, Effects) {
	out := make([]DownloadItem, 0, len(items)-1)
	out = append(out, items[:idx]...)
	out = append(out, items[idx+1:]...)
	return out, Effects{Changed: true, Index: -1, ListChanged: true, RecomputeSize: recompute}
}

func failureMessage(ev Event, fallback string) string {
	if ev.Error == "" {
		return fallback
	}
	if ev.Code != 0 {
		return fmt.Sprintf("%s (code %d)", ev.Error, ev.Code)
	}
	return ev.Error
}
