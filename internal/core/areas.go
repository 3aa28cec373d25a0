package core

import (
	"fmt"
	"strings"
)

// Area groups parking facilities by administrative district.
type Area struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	FacilityIDs []string `json:"facilityIds" yaml:"facilityIds"`
}

// BuiltInAreas lists the Moscow districts and the facilities monitored in each.
var BuiltInAreas = []Area{
	{
		Code:        "САО",
		Description: "Northern",
		FacilityIDs: []string{"27069", "37437", "31811", "41965", "26674"},
	},
	{
		Code:        "СВАО",
		Description: "North-Eastern",
		FacilityIDs: []string{"29794", "37709", "25285", "28497", "41961"},
	},
	{
		Code:        "ВАО",
		Description: "Eastern",
		FacilityIDs: []string{"37434", "28490", "28492", "28491", "25335", "31814", "25307", "40094", "40095", "25322", "25332", "25330"},
	},
	{
		Code:        "ЮВАО",
		Description: "South-Eastern",
		FacilityIDs: []string{"41969", "31809", "27166", "28498", "25313", "37435", "25281", "25309"},
	},
	{
		Code:        "ЮАО",
		Description: "Southern",
		FacilityIDs: []string{
			"25253", "27167", "41966", "41968", "41967", "26741", "29945", "37436", "25314", "25320",
			"26744", "25287", "25257", "25273", "29924", "25270", "26740", "25323", "25278", "25279",
			"25276", "25277", "25311", "27986",
		},
	},
	{
		Code:        "ЮЗАО",
		Description: "South-Western",
		FacilityIDs: []string{
			"25334", "31903", "31816", "25333", "25252", "28634", "28505", "27164", "25286", "25290",
			"25280", "25282", "25261", "25274",
		},
	},
	{
		Code:        "ЗАО",
		Description: "Western",
		FacilityIDs: []string{"27127", "41911", "41963", "27168", "27169", "28485", "31810", "28488", "27136", "26683"},
	},
	{
		Code:        "СЗАО",
		Description: "North-Western",
		FacilityIDs: []string{"27173", "26675", "25275", "35257", "28546", "25255", "41962", "26742"},
	},
	{
		Code:        "НАО",
		Description: "Novomoskovsky",
		FacilityIDs: []string{"28486", "28487", "25316", "25315", "26931", "26932", "26933"},
	},
}

// FindBuiltInArea looks up a district by code (case-insensitive).
func FindBuiltInArea(code string) (*Area, bool) {
	needle := strings.TrimSpace(code)
	if needle == "" {
		return nil, false
	}

	for _, area := range BuiltInAreas {
		if strings.EqualFold(area.Code, needle) {
			copied := area
			copied.FacilityIDs = append([]string(nil), area.FacilityIDs...)
			return &copied, true
		}
	}

	return nil, false
}

const maxFacilityIDLength = 16

// NormalizeFacilityID trims the ID and checks that it is a short run of ASCII digits.
func NormalizeFacilityID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("facility id is required")
	}
	if len(id) > maxFacilityIDLength {
		return "", fmt.Errorf("facility id %q is longer than %d characters", id, maxFacilityIDLength)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("facility id %q must contain only digits", id)
		}
	}
	return id, nil
}
