package match

// Group maps a player slot to the identity established for it on first
// insert. Later partial payloads for the same match (retrieval callbacks,
// parse results) omit account ids; the group joins them back to the right
// player rows.
type Group map[int]GroupEntry

// GroupEntry is the per-slot identity: account id (nil for anonymous) and the
// hero played.
type GroupEntry struct {
	AccountID  *int64 `json:"account_id"`
	HeroID     int    `json:"hero_id"`
	PlayerSlot int    `json:"player_slot"`
}

// BuildGroup constructs the slot→identity mapping from a full player roster.
// Anonymous accounts are recorded as nil so the slot is still joinable.
func BuildGroup(players []Player) Group {
	group := make(Group, len(players))

	for _, p := range players {
		entry := GroupEntry{
			HeroID:     p.HeroID,
			PlayerSlot: p.PlayerSlot,
		}

		if p.AccountID != nil && *p.AccountID != AnonymousAccountID {
			id := *p.AccountID
			entry.AccountID = &id
		}

		group[p.PlayerSlot] = entry
	}

	return group
}

// Apply fills missing account ids and hero ids on partial player rows from
// the group. Fields already present on a row are left untouched.
func (g Group) Apply(players []Player) {
	for i := range players {
		entry, ok := g[players[i].PlayerSlot]
		if !ok {
			continue
		}

		if players[i].AccountID == nil && entry.AccountID != nil {
			id := *entry.AccountID
			players[i].AccountID = &id
		}

		if players[i].HeroID == 0 {
			players[i].HeroID = entry.HeroID
		}
	}
}
