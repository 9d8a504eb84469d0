/*
 *	Copyright 2025 The gograd Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package commandline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatDuration pretty prints duration without a long list of decimal points.
//
// Single-unit durations ("1.234567ms") are rounded to two decimals ("1.23ms").
// Compound durations ("1m30.5s") are returned unchanged.
func FormatDuration(d time.Duration) string {
	s := d.String()
	split := strings.IndexFunc(s, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	})
	if split <= 0 {
		return s
	}
	unit := s[split:]
	if strings.ContainsAny(unit, "0123456789") {
		// More than one unit, e.g. "1m30.5s".
		return s
	}
	num, err := strconv.ParseFloat(s[:split], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, unit)
}
