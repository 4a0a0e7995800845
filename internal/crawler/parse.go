package crawler

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	digitsRe = regexp.MustCompile(`[0-9]`)
	salesRe  = regexp.MustCompile(`([0-9][0-9.,]*)\s*(k|tr|m)?\b`)
	wordRe   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

var stopwords = map[string]bool{
	"và": true, "cho": true, "của": true, "các": true, "với": true, "loại": true,
	"chính": true, "hãng": true, "hàng": true, "mới": true, "giá": true, "tốt": true,
	"the": true, "and": true, "for": true, "with": true, "new": true,
}

// ParsePrice reads a marketplace price string. VND amounts use '.' or ','
// as thousands separators; a '$' marks USD with a decimal point.
func ParsePrice(s string) (*float64, string) {
	s = strings.TrimSpace(s)
	if !digitsRe.MatchString(s) {
		return nil, ""
	}

	if strings.Contains(s, "$") {
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' {
				return r
			}
			return -1
		}, s)
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, ""
		}
		return &v, "USD"
	}

	// A range like "199.000 - 299.000" keeps the lower bound.
	if idx := strings.IndexAny(s, "-–"); idx > 0 {
		s = s[:idx]
	}
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, ""
	}
	return &v, "VND"
}

// ParseSales reads sold-count strings such as "1.2k", "Đã bán 3,4k" or
// "Đã bán 120".
func ParseSales(s string) *int {
	m := salesRe.FindStringSubmatch(lower(strings.TrimSpace(s)))
	if m == nil {
		return nil
	}
	num, suffix := m[1], m[2]

	mult := 1.0
	switch suffix {
	case "k":
		mult = 1_000
	case "tr", "m":
		mult = 1_000_000
	}

	var v float64
	var err error
	if suffix != "" {
		v, err = strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
	} else {
		v, err = strconv.ParseFloat(strings.NewReplacer(",", "", ".", "").Replace(num), 64)
	}
	if err != nil {
		return nil
	}
	n := int(v*mult + 0.5)
	return &n
}

// ExtractKeywords returns up to ten distinct lower-cased words of name that
// are longer than two characters and not stopwords.
func ExtractKeywords(name string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range wordRe.FindAllString(lower(norm.NFC.String(name)), -1) {
		if len([]rune(w)) <= 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == 10 {
			break
		}
	}
	return out
}

func lower(s string) string {
	return cases.Lower(language.Vietnamese).String(s)
}
