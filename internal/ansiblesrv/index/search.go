package index

import (
	"sort"
	"strings"
	"unicode"
)

// Weight follows the postgres tsvector labels; A ranks highest.
type Weight byte

const (
	WeightA Weight = 'A'
	WeightB Weight = 'B'
	WeightC Weight = 'C'
	WeightD Weight = 'D'
)

var weightRank = map[Weight]float64{
	WeightA: 1.0,
	WeightB: 0.4,
	WeightC: 0.2,
	WeightD: 0.1,
}

// SearchDoc is the subset of a collection version that feeds its vector.
type SearchDoc struct {
	Namespace    string
	Name         string
	Tags         []string
	ContentNames []string
	Description  string
}

// Vector maps a lexeme to the strongest weight it appears with.
type Vector map[string]Weight

// BuildVector mirrors the collection_versions search vector trigger.
func BuildVector(d SearchDoc) Vector {
	v := Vector{}
	v.add(WeightA, d.Namespace)
	v.add(WeightA, d.Name)
	for _, t := range d.Tags {
		v.add(WeightB, t)
	}
	for _, c := range d.ContentNames {
		v.add(WeightC, c)
	}
	v.add(WeightD, d.Description)
	return v
}

func (v Vector) add(w Weight, text string) {
	for _, tok := range Tokenize(text) {
		if cur, ok := v[tok]; !ok || w < cur {
			v[tok] = w
		}
	}
}

// Tokenize lower-cases text and splits it on anything that is not a letter,
// digit or underscore.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// Match reports whether every query term is present and returns a rank
// that favors terms hit in heavier fields.
func (v Vector) Match(query string) (float64, bool) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return 0, true
	}
	var rank float64
	for _, t := range terms {
		w, ok := v[t]
		if !ok {
			return 0, false
		}
		rank += weightRank[w]
	}
	return rank, true
}

// String renders the vector in tsvector text form, sorted by lexeme.
func (v Vector) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("'" + k + "':1")
		b.WriteByte(byte(v[k]))
	}
	return b.String()
}
