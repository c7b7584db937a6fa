package worker

import "strings"

// Court category directories, in classification priority order.
const (
	SupremeCourt        = "supreme_court"
	CourtOfAppeal       = "court_of_appeal"
	HighCourt           = "high_court"
	EmploymentCourt     = "employment_and_labour_court"
	EnvironmentCourt    = "environment_and_land_court"
	MagistratesCourts   = "magistrates_courts"
	SpecializedTribunal = "specialized_tribunals"
	OtherCourts         = "other_courts"
)

type courtRule struct {
	keywords []string
	category string
}

// Rules are checked in order; the first keyword hit wins.
var courtRules = []courtRule{
	{keywords: []string{"supreme court"}, category: SupremeCourt},
	{keywords: []string{"court of appeal"}, category: CourtOfAppeal},
	{keywords: []string{"high court"}, category: HighCourt},
	{keywords: []string{"employment", "labour"}, category: EmploymentCourt},
	{keywords: []string{"environment", "land"}, category: EnvironmentCourt},
	{keywords: []string{"magistrate"}, category: MagistratesCourts},
	{keywords: []string{"tribunal"}, category: SpecializedTribunal},
}

// CourtDirectories lists every category directory.
func CourtDirectories() []string {
	return []string{
		SupremeCourt,
		CourtOfAppeal,
		HighCourt,
		EmploymentCourt,
		EnvironmentCourt,
		MagistratesCourts,
		SpecializedTribunal,
		OtherCourts,
	}
}

// Classify maps a court name to its category directory.
func Classify(court string) string {
	name := strings.ToLower(court)
	for _, rule := range courtRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.category
			}
		}
	}
	return OtherCourts
}
