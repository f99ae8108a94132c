// Package moderation provides heuristic content screening for chat traffic.
// The coordinator runs it in shadow mode: flagged messages are logged and
// counted for operator review but still delivered, since delivery policy is
// owned entirely by the coordinator's rate and length checks.
package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Compiled regex patterns for content screening. These are compiled once at
// package init and reused for every call, making them safe and efficient for
// concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and common TLD patterns.
	// The bare-domain variant requires a trailing "/" to avoid false positives
	// on version strings like "v2.0" or decimal numbers like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches various phone number formats such as:
	//   +1-555-123-4567, (555) 123-4567, 555.123.4567
	// Anchored to whitespace/string boundaries to avoid matching random digit
	// sequences embedded in normal words or short numbers like "100".
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// check pairs a detection function with the label reported when it fires.
type check struct {
	name  string
	match func(string) bool
}

// checks is the ordered list applied by Screen. The first match wins.
var checks = []check{
	{name: "url", match: func(text string) bool {
		return urlPattern.MatchString(text)
	}},
	{name: "phone", match: func(text string) bool {
		return phonePattern.MatchString(text)
	}},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// Screen runs all heuristics against text. It returns the name of the first
// check that fired, or ok=false when the text is clean.
func Screen(text string) (string, bool) {
	for _, c := range checks {
		if c.match(text) {
			return c.name, true
		}
	}
	return "", false
}

// hasCharFlood returns true if text contains 5 or more consecutive identical
// characters. Go's regexp package (RE2) does not support backreferences, so
// this is implemented as a simple linear scan which is both correct and fast.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood returns true if the same word appears 3 or more times
// consecutively (case-insensitive). Words are delimited by whitespace.
// Go's regexp package (RE2) does not support backreferences, so this is
// implemented with a simple token scan.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	if len(words) < threshold {
		return false
	}

	run := 1
	prev := strings.ToLower(words[0])
	for _, w := range words[1:] {
		w = strings.ToLower(w)
		if w == prev {
			run++
			if run >= threshold {
				return true
			}
		} else {
			run = 1
			prev = w
		}
	}
	return false
}
