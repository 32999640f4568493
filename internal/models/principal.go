package models

// Principal is the caller identity derived from the stored user on every request.
type Principal struct {
	UserID          string
	Email           string
	FullName        string
	Tier            Tier
	SubRole         SubRole
	HomeVillage     string
	GrantedVillages []string
}

// Villages returns the home village followed by granted villages without duplicates.
func (p Principal) Villages() []string {
	seen := make(map[string]struct{}, len(p.GrantedVillages)+1)
	out := make([]string, 0, len(p.GrantedVillages)+1)
	for _, v := range append([]string{p.HomeVillage}, p.GrantedVillages...) {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// InVillage reports whether village is the home village or a granted one.
func (p Principal) InVillage(village string) bool {
	if village == "" {
		return false
	}
	for _, v := range p.Villages() {
		if v == village {
			return true
		}
	}
	return false
}
