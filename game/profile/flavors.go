package profile

// Narrative flavors selectable during onboarding. Each flavor gates its own
// class list; changing flavor resets the chosen class.
const (
	FlavorFantasy = "fantasy"
	FlavorSciFi   = "sci-fi"
)

var flavorClasses = map[string][]string{
	FlavorFantasy: {
		"Coffee Bar Mage",
		"Commuter Bard",
		"Laundry Paladin",
		"Errand Ranger",
		"Study Sorcerer",
		"Zoom Druid",
		"Gym Barbarian",
		"Kitchen Cleric",
	},
	FlavorSciFi: {
		"Space Engineer",
		"Cybernetic Hacker",
		"Quantum Pilot",
		"Nano Medic",
		"Galactic Trader",
		"Android Operative",
		"Laser Ranger",
		"Stellar Navigator",
	},
}

// Flavors returns the selectable narrative flavors.
func Flavors() []string {
	return []string{FlavorFantasy, FlavorSciFi}
}

// ValidFlavor reports whether f is a known flavor.
func ValidFlavor(f string) bool {
	_, ok := flavorClasses[f]
	return ok
}

// ClassesFor returns the class list for a flavor, nil if unknown.
func ClassesFor(flavor string) []string {
	classes, ok := flavorClasses[flavor]
	if !ok {
		return nil
	}
	out := make([]string, len(classes))
	copy(out, classes)
	return out
}

// ValidClass reports whether class belongs to the given flavor's list.
func ValidClass(flavor, class string) bool {
	for _, c := range flavorClasses[flavor] {
		if c == class {
			return true
		}
	}
	return false
}
