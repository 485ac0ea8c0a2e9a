package consultation

import "strings"

// symptomVocabulary is the fixed keyword list matched against patient input.
var symptomVocabulary = []string{
	"pain", "ache", "fever", "cough", "cold", "headache",
	"nausea", "vomit", "diarrhea", "constipation", "anxiety",
	"stress", "insomnia", "fatigue", "weakness", "dizzy",
	"swelling", "rash", "itch", "burn", "cramp", "sore",
	"inflammation", "infection", "allergy", "bleeding",
}

// DetectSymptoms returns the vocabulary keywords found in input, in order of
// first appearance, without duplicates. A keyword matches when a lower-cased
// word of the input equals it or extends it ("burning" matches "burn");
// keywords embedded mid-word do not count, so "headache" yields headache,
// not ache. Where several keywords match one word the longest wins.
func DetectSymptoms(input string) []string {
	words := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})

	var found []string
	seen := make(map[string]bool)
	for _, word := range words {
		keyword := ""
		for _, candidate := range symptomVocabulary {
			if strings.HasPrefix(word, candidate) && len(candidate) > len(keyword) {
				keyword = candidate
			}
		}
		if keyword != "" && !seen[keyword] {
			seen[keyword] = true
			found = append(found, keyword)
		}
	}
	return found
}
