package utils

import (
	"regexp"
	"strings"
)

var (
	profileUnsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`) // Anything outside letters, digits and ._-
	profileRunsOfSep   = regexp.MustCompile(`_{2,}`)
)

const maxProfileNameRunes = 64

// ProfileDirName turns a state profile name into a single safe path component.
// Separators, dots-only names and control characters cannot escape the state directory.
func ProfileDirName(profile string) string {
	name := profileUnsafeChars.ReplaceAllString(strings.TrimSpace(profile), "_")
	name = profileRunsOfSep.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.-")

	if runes := []rune(name); len(runes) > maxProfileNameRunes {
		name = strings.Trim(string(runes[:maxProfileNameRunes]), "_.-")
	}
	if name == "" {
		return "default"
	}
	return name
}
