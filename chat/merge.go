package chat

import "chatsync/models"

// mergeVariant resolves two message variants that share an id into one
// canonical record. The rules make merging commutative and idempotent:
// tombstones win regardless of recency, otherwise the variant with the
// latest effective timestamp wins, with confirmed beating pending on a
// tie. Read sets are unioned so readBy only ever grows.
func mergeVariant(a, b models.Message) models.Message {
	var winner, loser models.Message

	switch {
	case a.Deleted && !b.Deleted:
		winner, loser = a, b
	case b.Deleted && !a.Deleted:
		winner, loser = b, a
	case a.EffectiveTimestamp() > b.EffectiveTimestamp():
		winner, loser = a, b
	case b.EffectiveTimestamp() > a.EffectiveTimestamp():
		winner, loser = b, a
	case a.Pending != b.Pending && b.Pending:
		winner, loser = a, b
	default:
		winner, loser = b, a
	}

	winner.ReadBy = unionReadBy(winner.ReadBy, loser.ReadBy)
	winner.Deleted = a.Deleted || b.Deleted
	// Any confirmed sighting of the id settles the optimistic echo.
	winner.Pending = a.Pending && b.Pending
	if winner.Deleted {
		// Tombstones keep the id but never a body.
		winner.Text = ""
		winner.File = nil
		winner.Pending = false
	}

	return winner
}

// mergeSets merges any number of message sets keyed by id and returns
// the canonical sorted sequence. Input order is irrelevant.
func mergeSets(sets ...[]models.Message) []models.Message {
	byID := make(map[string]models.Message)
	for _, set := range sets {
		for _, message := range set {
			if message.ID == "" {
				continue
			}
			if existing, ok := byID[message.ID]; ok {
				byID[message.ID] = mergeVariant(existing, message)
			} else {
				byID[message.ID] = message
			}
		}
	}

	merged := make([]models.Message, 0, len(byID))
	for _, message := range byID {
		merged = append(merged, message)
	}
	models.SortMessages(merged)

	return merged
}

func unionReadBy(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}

	seen := make(map[string]bool, len(base))
	union := make([]string, 0, len(base)+len(extra))
	for _, id := range base {
		if !seen[id] {
			seen[id] = true
			union = append(union, id)
		}
	}
	for _, id := range extra {
		if !seen[id] {
			seen[id] = true
			union = append(union, id)
		}
	}

	return union
}

// sameVariant reports whether an incoming duplicate carries nothing new
// compared to the stored variant, so the engine can drop it silently.
func sameVariant(a, b models.Message) bool {
	if a.ID != b.ID || a.RoomID != b.RoomID {
		return false
	}
	if a.Text != b.Text || a.CreatedAt != b.CreatedAt {
		return false
	}
	if a.Deleted != b.Deleted || a.Pending != b.Pending {
		return false
	}
	if (a.EditedAt == nil) != (b.EditedAt == nil) {
		return false
	}
	if a.EditedAt != nil && *a.EditedAt != *b.EditedAt {
		return false
	}
	if (a.File == nil) != (b.File == nil) {
		return false
	}
	if a.File != nil && *a.File != *b.File {
		return false
	}
	if len(a.ReadBy) != len(b.ReadBy) {
		return false
	}
	for i := range a.ReadBy {
		if a.ReadBy[i] != b.ReadBy[i] {
			return false
		}
	}
	return true
}
