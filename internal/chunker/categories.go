package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// categoryMapping maps raw chapter labels, as they appear in the converted
// source files, onto the controlled category vocabulary.
var categoryMapping = map[string]string{
	"Allergic Disorder":                             "Allergy and Immunology",
	"Behavioural & pyschatrical disorder":           "Behavioral and Psychiatric",
	"Bone and Joint Disorders":                      "Orthopedics",
	"Digestive system":                              "Gastroenterology",
	"Diseases of the Blood":                         "Hematology",
	"Ear":                                           "Otolaryngology",
	"Fluid &electrolyte disorder":                   "Nephrology",
	"Growth development & behaviour":                "Developmental Pediatrics",
	"Gynecologic History and Physical Examination":  "Gynecology",
	"Humangenetics":                                 "Genetics",
	"Rehabilitation Medicine":                       "Rehabilitation",
	"Rheumatic Disease":                             "Rheumatology",
	"Skin":                                          "Dermatology",
	"The Cardiovascular System":                     "Cardiology",
	"The Endocrine System":                          "Endocrinology",
	"The Nervous System":                            "Neurology",
	"The Respiratory System":                        "Pulmonology",
	"Urology":                                       "Urology",
	"aldocent medicine":                             "Adolescent Medicine",
	"cancer & benign tumor":                         "Oncology",
	"immunology":                                    "Immunology",
	"learning & developmental disorder":             "Developmental Pediatrics",
	"metabolic disorder":                            "Metabolism",
}

// CategoryFor maps a chapter label to its medical category, defaulting to
// General Pediatrics for unmapped chapters.
func CategoryFor(chapter string) string {
	if cat, ok := categoryMapping[chapter]; ok {
		return cat
	}
	return "General Pediatrics"
}

var ageGroupPatterns = []struct {
	group string
	re    *regexp.Regexp
}{
	{"Neonatal", regexp.MustCompile(`(?i)\b(neonat\w*|newborn|premature|preterm)\b`)},
	{"Infant", regexp.MustCompile(`(?i)\b(infant\w*|breastfe\w*)\b`)},
	{"Adolescent", regexp.MustCompile(`(?i)\b(adolescen\w*|teenag\w*|puberty)\b`)},
}

// AgeGroupFor picks the most specific age group named in the content,
// defaulting to Pediatric.
func AgeGroupFor(content string) string {
	for _, p := range ageGroupPatterns {
		if p.re.MatchString(content) {
			return p.group
		}
	}
	return "Pediatric"
}

const maxKeywords = 20

var keywordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:syndrome|disease|disorder|condition)\b`),
	regexp.MustCompile(`\b(?:treatment|therapy|medication|drug)\b`),
	regexp.MustCompile(`\b(?:diagnosis|symptom|sign|manifestation)\b`),
	regexp.MustCompile(`\b(?:mg/kg|mcg/kg|units/kg)\b`),
	regexp.MustCompile(`\b(?:pediatric|infant|child|adolescent|neonatal)\b`),
}

var drugDoseRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:-[a-z]+)*)\s+(?:\d+(?:-\d+)?\s*(?:mg|mcg|units))`)

// ExtractKeywords pulls medical terms and dosed drug names out of the
// content. The result is sorted so identical input always yields an
// identical keyword set.
func ExtractKeywords(content string) []string {
	seen := map[string]struct{}{}
	lower := strings.ToLower(content)
	for _, re := range keywordPatterns {
		for _, m := range re.FindAllString(lower, -1) {
			seen[m] = struct{}{}
		}
	}
	for _, m := range drugDoseRe.FindAllStringSubmatch(content, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	keywords := make([]string, 0, len(seen))
	for k := range seen {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}
