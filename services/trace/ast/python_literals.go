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
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// renderLiteral renders a constant the way Python's str() shows its value.
//
// Description:
//
//	Handles integers, floats, imaginary numbers, plain and byte strings
//	(including implicit concatenation), True, False, None and Ellipsis.
//	f-strings are not constants and report false, as do all other nodes.
//
// Outputs:
//   - string: The rendered value.
//   - bool: False if the node is not a constant.
func renderLiteral(node *sitter.Node, content []byte) (string, bool) {
	text := string(content[node.StartByte():node.EndByte()])

	switch node.Type() {
	case "integer":
		return renderInteger(text)
	case "float":
		return renderFloat(text)
	case "true":
		return "True", true
	case "false":
		return "False", true
	case "none":
		return "None", true
	case "ellipsis":
		return "Ellipsis", true
	case "string":
		lit, ok := parseStringLiteral(text)
		if !ok {
			return "", false
		}
		return lit.render(), true
	case "concatenated_string":
		return renderConcatenated(node, content)
	}
	return "", false
}

// renderInteger normalizes any Python integer spelling to decimal.
func renderInteger(text string) (string, bool) {
	t := strings.ToLower(text)
	if strings.HasSuffix(t, "j") {
		return renderImaginary(t[:len(t)-1])
	}
	n, ok := new(big.Int).SetString(t, 0)
	if !ok {
		return "", false
	}
	return n.String(), true
}

func renderFloat(text string) (string, bool) {
	t := strings.ToLower(text)
	if strings.HasSuffix(t, "j") {
		return renderImaginary(t[:len(t)-1])
	}
	f, ok := parsePythonFloat(t)
	if !ok {
		return "", false
	}
	return pythonFloatRepr(f), true
}

// renderImaginary renders the imaginary part of a complex literal, e.g.
// "1j" or "2.5j".
func renderImaginary(text string) (string, bool) {
	f, ok := parsePythonFloat(text)
	if !ok {
		return "", false
	}
	return strings.TrimSuffix(pythonFloatRepr(f), ".0") + "j", true
}

func parsePythonFloat(text string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

// pythonFloatRepr formats f as Python's repr does: shortest round-trip
// digits, positional for exponents in [-4, 16) and always carrying a
// fractional part.
func pythonFloatRepr(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return sci
	}

	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

// stringLiteral is one parsed Python string token.
type stringLiteral struct {
	formatted bool
	bytes     bool
	value     []byte
}

func (s stringLiteral) render() string {
	if s.formatted {
		return ExprPlaceholder
	}
	if s.bytes {
		return bytesRepr(s.value)
	}
	return string(s.value)
}

// parseStringLiteral splits a string token into prefix, quotes and body
// and decodes the body.
func parseStringLiteral(text string) (stringLiteral, bool) {
	i := 0
	for i < len(text) && text[i] != '\'' && text[i] != '"' {
		i++
	}
	if i == len(text) {
		return stringLiteral{}, false
	}
	prefix := strings.ToLower(text[:i])
	rest := text[i:]

	quote := rest[:1]
	if len(rest) >= 6 && (strings.HasPrefix(rest, `"""`) || strings.HasPrefix(rest, `'''`)) {
		quote = rest[:3]
	}
	if len(rest) < 2*len(quote) || !strings.HasSuffix(rest, quote) {
		return stringLiteral{}, false
	}
	body := rest[len(quote) : len(rest)-len(quote)]

	lit := stringLiteral{
		formatted: strings.ContainsAny(prefix, "ft"),
		bytes:     strings.Contains(prefix, "b"),
	}
	if lit.formatted {
		return lit, true
	}
	if strings.Contains(prefix, "r") {
		lit.value = []byte(body)
		return lit, true
	}
	lit.value = decodeEscapes(body, lit.bytes)
	return lit, true
}

// renderConcatenated joins implicitly concatenated strings. Any f-string
// part turns the whole expression into a non-constant.
func renderConcatenated(node *sitter.Node, content []byte) (string, bool) {
	var joined []byte
	isBytes := false
	first := true

	count := int(node.NamedChildCount())
	for i := 0; i < count; i++ {
		child := node.NamedChild(i)
		if child == nil || child.Type() != "string" {
			continue
		}
		lit, ok := parseStringLiteral(string(content[child.StartByte():child.EndByte()]))
		if !ok {
			return "", false
		}
		if lit.formatted {
			return ExprPlaceholder, true
		}
		if first {
			isBytes = lit.bytes
			first = false
		} else if lit.bytes != isBytes {
			return "", false
		}
		joined = append(joined, lit.value...)
	}

	if isBytes {
		return bytesRepr(joined), true
	}
	return string(joined), true
}

// decodeEscapes interprets backslash escapes in a non-raw string body.
// Unknown escapes are kept verbatim, as Python does.
func decodeEscapes(body string, isBytes bool) []byte {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			out = append(out, c)
			continue
		}

		i++
		n := body[i]
		switch n {
		case '\n':
		case '\r':
			if i+1 < len(body) && body[i+1] == '\n' {
				i++
			}
		case '\\', '\'', '"':
			out = append(out, n)
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(body) && j < i+3 && body[j] >= '0' && body[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(body[i:j], 8, 32)
			out = appendCodePoint(out, rune(v), isBytes)
			i = j - 1
		case 'x':
			out, i = appendHexEscape(out, body, i, 2, isBytes)
		case 'u', 'U':
			if isBytes {
				out = append(out, '\\', n)
				continue
			}
			width := 4
			if n == 'U' {
				width = 8
			}
			out, i = appendHexEscape(out, body, i, width, false)
		case 'N':
			if isBytes {
				out = append(out, '\\', n)
				continue
			}
			out, i = appendNamedEscape(out, body, i)
		default:
			out = append(out, '\\', n)
		}
	}
	return out
}

// appendHexEscape decodes width hex digits after body[i]. An invalid
// escape is kept verbatim.
func appendHexEscape(out []byte, body string, i, width int, isBytes bool) ([]byte, int) {
	if i+width >= len(body) {
		return append(out, '\\', body[i]), i
	}
	v, err := strconv.ParseUint(body[i+1:i+1+width], 16, 32)
	if err != nil {
		return append(out, '\\', body[i]), i
	}
	return appendCodePoint(out, rune(v), isBytes), i + width
}

// stringEscapeError reports escapes in a string token that Python rejects
// at compile time. Raw strings and f-strings are not checked.
func stringEscapeError(text string) (string, bool) {
	i := 0
	for i < len(text) && text[i] != '\'' && text[i] != '"' {
		i++
	}
	prefix := strings.ToLower(text[:i])
	if strings.ContainsAny(prefix, "rft") {
		return "", false
	}
	isBytes := strings.Contains(prefix, "b")
	body := text[i:]

	for j := 0; j+1 < len(body); j++ {
		if body[j] != '\\' {
			continue
		}
		j++
		switch n := body[j]; n {
		case 'x':
			if !hasHexDigits(body, j+1, 2) {
				if isBytes {
					return `invalid \x escape`, true
				}
				return `truncated \xXX escape`, true
			}
		case 'u', 'U':
			if isBytes {
				continue
			}
			width := 4
			if n == 'U' {
				width = 8
			}
			if !hasHexDigits(body, j+1, width) {
				return fmt.Sprintf(`truncated \%c%s escape`, n, strings.Repeat("X", width)), true
			}
			if v, _ := strconv.ParseUint(body[j+1:j+1+width], 16, 32); v > utf8.MaxRune {
				return `illegal Unicode character`, true
			}
		case 'N':
			if isBytes {
				continue
			}
			if j+1 >= len(body) || body[j+1] != '{' {
				return `malformed \N character escape`, true
			}
			end := strings.IndexByte(body[j+2:], '}')
			if end < 0 {
				return `malformed \N character escape`, true
			}
			if _, ok := lookupRuneName(body[j+2 : j+2+end]); !ok {
				return "unknown Unicode character name", true
			}
		}
	}
	return "", false
}

func hasHexDigits(s string, start, width int) bool {
	if start+width > len(s) {
		return false
	}
	for _, c := range []byte(s[start : start+width]) {
		if !strings.ContainsRune("0123456789abcdefABCDEF", rune(c)) {
			return false
		}
	}
	return true
}

// appendNamedEscape decodes \N{NAME} where body[i] is the N. An unknown
// or unterminated name is kept verbatim.
func appendNamedEscape(out []byte, body string, i int) ([]byte, int) {
	if i+1 >= len(body) || body[i+1] != '{' {
		return append(out, '\\', body[i]), i
	}
	end := strings.IndexByte(body[i+2:], '}')
	if end < 0 {
		return append(out, '\\', body[i]), i
	}
	r, ok := lookupRuneName(body[i+2 : i+2+end])
	if !ok {
		return append(out, '\\', body[i]), i
	}
	return utf8.AppendRune(out, r), i + 2 + end
}

func appendCodePoint(out []byte, r rune, isBytes bool) []byte {
	if isBytes {
		return append(out, byte(r))
	}
	return utf8.AppendRune(out, r)
}

// bytesRepr renders b as Python's repr of a bytes object.
func bytesRepr(b []byte) string {
	quote := byte('\'')
	if strings.IndexByte(string(b), '\'') >= 0 && strings.IndexByte(string(b), '"') < 0 {
		quote = '"'
	}

	const hexDigits = "0123456789abcdef"
	var sb strings.Builder
	sb.WriteByte('b')
	sb.WriteByte(quote)
	for _, c := range b {
		switch {
		case c == quote || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c < ' ' || c >= 0x7f:
			sb.WriteString(`\x`)
			sb.WriteByte(hexDigits[c>>4])
			sb.WriteByte(hexDigits[c&0x0f])
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}
