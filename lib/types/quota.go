/*
Copyright 2024 Regents of the University of California

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// quotaMultipliers converts a size suffix to mebibytes.
var quotaMultipliers = map[byte]uint64{
	'M': 1,
	'G': 1024,
	'T': 1024 * 1024,
}

// ParseQuotaMB parses a human quota string such as "200G" or "512M"
// into mebibytes. A bare number is taken as mebibytes. Suffixes are
// case-insensitive.
func ParseQuotaMB(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, trace.BadParameter("quota is empty")
	}
	mult := uint64(1)
	num := s
	last := strings.ToUpper(s)[len(s)-1]
	if last < '0' || last > '9' {
		m, ok := quotaMultipliers[last]
		if !ok {
			return 0, trace.BadParameter("quota %q has unknown suffix %q", s, string(s[len(s)-1]))
		}
		mult = m
		num = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return 0, trace.BadParameter("quota %q is not a number with an optional M/G/T suffix", s)
	}
	if n == 0 {
		return 0, trace.BadParameter("quota %q must be positive", s)
	}
	return n * mult, nil
}

// SlurmMB normalizes a quota string to the canonical scheduler form,
// an integer count of mebibytes with an M suffix.
func SlurmMB(s string) (string, error) {
	mb, err := ParseQuotaMB(s)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return fmt.Sprintf("%dM", mb), nil
}

// CheckQuota validates a quota string without normalizing it.
func CheckQuota(s string) error {
	_, err := ParseQuotaMB(s)
	return trace.Wrap(err)
}
