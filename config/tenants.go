package config

import "sort"

// Tenant is one configured brand/operator instance of the backend. The
// table is static; values are part of the external contract with the
// provider's web endpoints.
type Tenant struct {
	Code   string
	Name   string
	Domain string
	// Auth is the host that accepts credential submission for an
	// authenticated login. Tenants without one only support anonymous
	// sessions.
	Auth string
	Env  string
	App  string
	// Timezone is the tenant's civil timezone, used to normalize
	// calendar-day guide queries.
	Timezone string
}

var tenants = map[string]Tenant{
	"tvv": {
		Code:     "tvv",
		Name:     "TV Vlaanderen",
		Domain:   "livetv.tv-vlaanderen.be",
		Auth:     "login.tv-vlaanderen.be",
		Env:      "m7be2iphone",
		App:      "tvv",
		Timezone: "Europe/Brussels",
	},
	"cds": {
		Code:     "cds",
		Name:     "Canal Digitaal",
		Domain:   "livetv.canaldigitaal.nl",
		Auth:     "login.canaldigitaal.nl",
		Env:      "m7be2iphone",
		App:      "cds",
		Timezone: "Europe/Amsterdam",
	},
	"as": {
		Code:     "as",
		Name:     "HD Austria",
		Domain:   "livetv.hdaustria.at",
		Env:      "m7be2iphone",
		App:      "as",
		Timezone: "Europe/Vienna",
	},
	"fsro": {
		Code:     "fsro",
		Name:     "Focus Sat",
		Domain:   "livetv.focussat.ro",
		Env:      "m7cziphone",
		App:      "fsro",
		Timezone: "Europe/Bucharest",
	},
	"ngt": {
		Code:     "ngt",
		Name:     "NextGenTel",
		Domain:   "nextgentel.tv",
		Env:      "m7be2iphone",
		App:      "ngt",
		Timezone: "Europe/Oslo",
	},
	"slcz": {
		Code:     "slcz",
		Name:     "Skylink CZ",
		Domain:   "livetv.skylink.cz",
		Env:      "m7be2iphone",
		App:      "slcz",
		Timezone: "Europe/Prague",
	},
	"slsk": {
		Code:     "slsk",
		Name:     "Skylink SK",
		Domain:   "livetv.skylink.sk",
		Env:      "m7be2iphone",
		App:      "slsk",
		Timezone: "Europe/Bratislava",
	},
	"tsn": {
		Code:     "tsn",
		Name:     "TéléSat",
		Domain:   "livetv.telesat.be",
		Env:      "m7be2iphone",
		App:      "tsn",
		Timezone: "Europe/Brussels",
	},
	"tnd": {
		Code:     "tnd",
		Name:     "TriNed",
		Domain:   "livetv.trined.nl",
		Env:      "m7be2iphone",
		App:      "tnd",
		Timezone: "Europe/Amsterdam",
	},
	"upchu": {
		Code:     "upchu",
		Name:     "Direct One",
		Domain:   "livetv.directone.hu",
		Env:      "m7be2iphone",
		App:      "upchu",
		Timezone: "Europe/Budapest",
	},
}

// GetTenant looks up a tenant by its code.
func GetTenant(code string) (Tenant, bool) {
	t, ok := tenants[code]
	return t, ok
}

// Tenants returns all known tenants sorted by code.
func Tenants() []Tenant {
	list := make([]Tenant, 0, len(tenants))
	for _, t := range tenants {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	return list
}
