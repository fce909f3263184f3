package customers

import (
	"strings"

	"github.com/fakturace/fakturace/internal/shared"
)

// legalForms are compacted (no dots, no spaces) Czech legal-form suffixes.
var legalForms = map[string]bool{
	"sro":     true,
	"spolsro": true,
	"as":      true,
	"vos":     true,
	"ks":      true,
	"zs":      true,
	"ops":     true,
	"se":      true,
}

// NormalizeName folds case and diacritics, drops punctuation and a trailing
// legal form, so "Novák Stavby, s. r. o." becomes "novak stavby".
func NormalizeName(name string) string {
	folded := shared.Fold(strings.NewReplacer(",", " ", ";", " ", "\"", " ", "„", " ", "“", " ").Replace(name))
	tokens := strings.Fields(folded)
	for k := min(4, len(tokens)-1); k >= 1; k-- {
		suffix := strings.ReplaceAll(strings.Join(tokens[len(tokens)-k:], ""), ".", "")
		if legalForms[suffix] {
			tokens = tokens[:len(tokens)-k]
			break
		}
	}
	for i, tok := range tokens {
		tokens[i] = strings.Trim(tok, ".")
	}
	return strings.Join(strings.Fields(strings.Join(tokens, " ")), " ")
}

// similarity scores two normalised names: 1 for equality, 0.9 when one
// contains the other, otherwise token Jaccard.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if len(a) >= 3 && len(b) >= 3 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return 0.9
	}
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
