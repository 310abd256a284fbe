package store

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// hebrewPrefixes are the single-letter prefixes (ו ה ב ל מ ש כ) that Hebrew
// writes attached to the following word.
const hebrewPrefixes = "והבלמשכ"

// maxPrefixes is how many stacked prefixes are stripped, as in "ובחיפה".
const maxPrefixes = 2

// minStemRunes keeps stripping from reducing a word to a fragment.
const minStemRunes = 3

// wordMarks are dropped inside a word, so "ג'אז" and "ת\"א" stay one token.
const wordMarks = `'"׳״’`

// searchTokens splits text into lowercase letter/digit tokens, dropping
// combining marks such as niqqud.
func searchTokens(text string) []string {
	text = norm.NFC.String(text)
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.Is(unicode.Mn, r):
		case b.Len() > 0 && strings.ContainsRune(wordMarks, r):
		default:
			flush()
		}
	}
	flush()
	return out
}

// tokenForms returns tok followed by the forms left after stripping one or
// two attached Hebrew prefixes. "במועדון" yields "במועדון" and "מועדון".
func tokenForms(tok string) []string {
	forms := []string{tok}
	rest := tok
	for i := 0; i < maxPrefixes; i++ {
		r, size := utf8.DecodeRuneInString(rest)
		if !strings.ContainsRune(hebrewPrefixes, r) {
			break
		}
		rest = rest[size:]
		if utf8.RuneCountInString(rest) < minStemRunes {
			break
		}
		forms = append(forms, rest)
	}
	return forms
}

// searchBody is the indexed form of a message text: every token with its
// prefix-stripped forms, so "בחיפה" is found by a search for "חיפה" and the
// other way round.
func searchBody(text string) string {
	var forms []string
	for _, tok := range searchTokens(text) {
		forms = append(forms, tokenForms(tok)...)
	}
	return strings.Join(forms, " ")
}

// searchTerms reduces search keys to the distinct tokens they contain,
// prefix-stripped forms included. A record matching any term is a
// candidate; ranking puts records matching more terms first.
func searchTerms(keys []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		for _, tok := range searchTokens(k) {
			for _, f := range tokenForms(tok) {
				if seen[f] {
					continue
				}
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// anyTermQuery joins terms as quoted tokens separated by sep. Terms hold
// only letters and digits, so quoting keeps FTS5 keywords such as AND
// literal.
func anyTermQuery(terms []string, sep string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, sep)
}
