// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/runenames"
)

const (
	cjkIdeographPrefix = "CJK UNIFIED IDEOGRAPH-"
	hangulPrefix       = "HANGUL SYLLABLE "
	hangulBase         = 0xAC00
)

var (
	hangulLeads  = []string{"G", "GG", "N", "D", "DD", "R", "M", "B", "BB", "S", "SS", "", "J", "JJ", "C", "K", "T", "P", "H"}
	hangulVowels = []string{"A", "AE", "YA", "YAE", "EO", "E", "YEO", "YE", "O", "WA", "WAE", "OE", "YO", "U", "WEO", "WE", "WI", "YU", "EU", "YI", "I"}
	hangulTails  = []string{"", "G", "GG", "GS", "N", "NJ", "NH", "D", "L", "LG", "LM", "LB", "LS", "LT", "LP", "LH", "M", "B", "BS", "S", "SS", "NG", "J", "C", "K", "T", "P", "H"}
)

// runeNames is built on first use of a \N{...} escape.
var runeNames = sync.OnceValue(func() map[string]rune {
	names := make(map[string]rune, 40000)
	for r := rune(0); r <= unicode.MaxRune; r++ {
		if r >= 0xD800 && r <= 0xDFFF {
			continue
		}
		name := runenames.Name(r)
		if name == "" || strings.HasPrefix(name, "<") {
			continue
		}
		names[name] = r
	}
	for l, lead := range hangulLeads {
		for v, vowel := range hangulVowels {
			for t, tail := range hangulTails {
				r := rune(hangulBase + (l*len(hangulVowels)+v)*len(hangulTails) + t)
				names[hangulPrefix+lead+vowel+tail] = r
			}
		}
	}
	return names
})

// lookupRuneName resolves a Unicode character name as used by Python's
// \N{...} escape. Matching is case-insensitive. Name aliases are not
// supported.
func lookupRuneName(name string) (rune, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}
	if hex, ok := strings.CutPrefix(name, cjkIdeographPrefix); ok {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || (len(hex) != 4 && len(hex) != 5) || !unicode.Is(unicode.Unified_Ideograph, rune(v)) {
			return 0, false
		}
		return rune(v), true
	}
	r, ok := runeNames()[name]
	return r, ok
}
