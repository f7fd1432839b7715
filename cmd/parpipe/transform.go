package main

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"
)

var transforms = map[string]func(string) string{
	"sha256": func(line string) string {
		sum := sha256.Sum256([]byte(line))
		return hex.EncodeToString(sum[:])
	},
	"upper": strings.ToUpper,
	"wordcount": func(line string) string {
		return strconv.Itoa(len(strings.Fields(line)))
	},
}

func transformNames() []string {
	return slices.Sorted(maps.Keys(transforms))
}
