package dataset

import (
	"strings"
	"unicode"
)

var keepUpper = map[string]bool{"ISD": true, "CISD": true, "MSD": true}

// TitleCase formats an upper-case TEA name for display: "ALDINE ISD" becomes
// "Aldine ISD". District acronyms stay upper case.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if keepUpper[w] {
			continue
		}
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

// titleWord upper-cases the first letter of every letter run and lower-cases
// the rest, so "O'DONNELL" becomes "O'Donnell".
func titleWord(w string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range w {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// Choice is one selectable district.
type Choice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	County string `json:"county,omitempty"`
	Label  string `json:"label"`
}

// DistrictChoices lists the districts of t in table order. Names shared by
// more than one district are disambiguated as "NAME (COUNTY)".
func DistrictChoices(t *Table) []Choice {
	counts := make(map[string]int, t.Len())
	for i := 0; i < t.Len(); i++ {
		counts[t.Name(i)]++
	}
	out := make([]Choice, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		c := Choice{ID: t.ID(i), Name: t.Name(i), County: t.Value(i, CountyColumn)}
		if c.ID == "" {
			continue
		}
		c.Label = c.Name
		if counts[c.Name] > 1 && c.County != "" {
			c.Label = c.Name + " (" + c.County + ")"
		}
		out = append(out, c)
	}
	return out
}
