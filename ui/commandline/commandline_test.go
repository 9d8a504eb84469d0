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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "100.00µs", FormatDuration(100*time.Microsecond))
	assert.Equal(t, "999.00ns", FormatDuration(999*time.Nanosecond))
	assert.Equal(t, "0.00s", FormatDuration(0))

	// Compound durations are returned as time.Duration formats them.
	assert.Equal(t, "1m30.5s", FormatDuration(90500*time.Millisecond))
	assert.Equal(t, "2h45m0s", FormatDuration(2*time.Hour+45*time.Minute))

	// Negative durations are not reformatted.
	assert.Equal(t, "-1.5ms", FormatDuration(-1500*time.Microsecond))
}
