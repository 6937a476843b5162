// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// langSeparator splits a timer entry into pattern and language tag.
const langSeparator = " ## "

// LangVO requests the original-version audio track.
const LangVO = "VO"

// Rule is one parsed timer entry.
type Rule struct {
	Raw     string
	Pattern *regexp.Regexp
	Lang    string
}

// ParseRule parses "pattern" or "pattern ## lang". The pattern is anchored
// at the start of the title; defaultLang applies when no tag is present.
func ParseRule(entry, defaultLang string) (Rule, error) {
	pattern, lang, found := strings.Cut(entry, langSeparator)
	if !found {
		lang = defaultLang
	}
	if pattern == "" {
		return Rule{}, fmt.Errorf("timer rule %q: empty pattern", entry)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return Rule{}, fmt.Errorf("timer rule %q: %w", entry, err)
	}
	return Rule{Raw: entry, Pattern: re, Lang: strings.TrimSpace(lang)}, nil
}

// Match reports whether title matches the rule.
func (r Rule) Match(title string) bool {
	return r.Pattern.MatchString(title)
}

// VO reports whether the rule asks for the original-version audio.
func (r Rule) VO() bool {
	return r.Lang == LangVO
}

// Timers is the timers.json document.
type Timers struct {
	Match    map[string][]string `json:"match"`
	Language struct {
		Default string `json:"default"`
	} `json:"language"`
}

// LoadTimers reads timers.json.
func LoadTimers(path string) (Timers, error) {
	var t Timers
	b, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// Rules parses the entries configured for channelID. Invalid entries are
// returned as errors alongside the valid rules.
func (t Timers) Rules(channelID string) ([]Rule, []error) {
	var (
		rules []Rule
		errs  []error
	)
	for _, entry := range t.Match[channelID] {
		r, err := ParseRule(entry, t.Language.Default)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs
}
