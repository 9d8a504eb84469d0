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

// Package commandline contains convenience UI tools for training on the command line.
//
// The main entry point is TrainingBar, a terminal progress bar with a live stats
// table, driven directly by the caller's training loop:
//
//	bar := commandline.NewTrainingBar(numSteps, lossMetric)
//	for step := 1; step <= numSteps; step++ {
//		... run one training step ...
//		bar.Update(step)
//	}
//	bar.Done()
package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called each time the progress bar is updated, and it should return a name and the
// current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// TrainingBar displays the progression of a training loop on the terminal: a progress
// bar plus a periodically redrawn table with the step count, the mean step duration
// and the values of the configured metrics.
//
// Create it with NewTrainingBar, call Update after each training step (or batch of
// steps) and Done when the loop finishes.
type TrainingBar struct {
	numSteps         int
	lastStepReported int
	startTime        time.Time
	bar              *progressbar.ProgressBar
	suffix           string

	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

type progressBarUpdate struct {
	amount  int
	step    int
	metrics [][2]string
}

// NewTrainingBar creates a terminal progress bar for a training loop of numSteps steps.
//
// Optionally one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out. They are called on the goroutine that calls Update, so closures
// over values written by the training loop are safe.
func NewTrainingBar(numSteps int, extraMetrics ...ExtraMetricFn) *TrainingBar {
	if numSteps <= 0 {
		numSteps = 1000
	}
	b := &TrainingBar{
		numSteps:       numSteps,
		startTime:      time.Now(),
		suffix:         "\033[J", // Erase leftovers of longer previous prints.
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(os.Stdout),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		extraMetricFns: extraMetrics,
	}
	b.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	b.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(b),
	)
	b.updates = make(chan progressBarUpdate, 100) // Large buffer so things are not blocked.
	b.asyncUpdatesDone.Add(1)
	go b.drainUpdates()
	return b
}

// Write implements io.Writer, and appends the current suffix to each write of the
// enclosed progressbar.ProgressBar. This ensures the bar and the erase-to-end escape
// sequence are written in the same write operation.
func (b *TrainingBar) Write(data []byte) (n int, err error) {
	n, err = os.Stdout.Write(data)
	if err != nil {
		return n, err
	}
	_, err = os.Stdout.Write([]byte(b.suffix))
	if err != nil {
		return 0, err
	}
	return
}

// Update reports that training finished the given step (1-based). It enqueues a display
// update to be asynchronously printed, so it is cheap to call at every step even when
// training is faster than the terminal.
//
// Calls with a step not larger than the last reported one are no-ops, as are calls
// after Done.
func (b *TrainingBar) Update(step int) {
	if b.updates == nil || b.bar.IsFinished() {
		return
	}
	amount := step - b.lastStepReported
	if amount <= 0 {
		return
	}
	update := progressBarUpdate{
		amount:  amount,
		step:    step,
		metrics: make([][2]string, 0, len(b.extraMetricFns)),
	}
	for _, metricFn := range b.extraMetricFns {
		name, value := metricFn()
		update.metrics = append(update.metrics, [2]string{name, value})
	}
	b.updates <- update
	b.lastStepReported = step
}

// Done finishes the progress bar: it waits for pending display updates to be printed
// and restores the cursor. It must be called exactly once, after the last Update.
func (b *TrainingBar) Done() {
	if b.updates != nil {
		close(b.updates)
		b.updates = nil
	}
	b.asyncUpdatesDone.Wait()
	b.termenv.ShowCursor()
	fmt.Println()
}

// drainUpdates asynchronously draws updates: this is handy if the training is faster
// than the terminal, in particular if running on cloud, with a relatively slow
// network connection.
func (b *TrainingBar) drainUpdates() {
	for update := range b.updates {
		// Exhaust the updates in the buffer:
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-b.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		// Create the table to be printed.
		b.statsTable.Data(lgtable.NewStringData())
		b.statsTable.Row("Step", fmt.Sprintf("%s of %s",
			humanize.Comma(int64(update.step)), humanize.Comma(int64(b.numSteps))))
		b.statsTable.Row("Mean step duration",
			FormatDuration(time.Since(b.startTime)/time.Duration(update.step)))
		for _, metric := range update.metrics {
			b.statsTable.Row(metric[0], metric[1])
		}

		// For the command-line, we clear the previous lines that will be overwritten.
		b.termenv.HideCursor()
		if !b.isFirstOutput {
			numLinesToBackup := len(update.metrics) + 2 + 3
			b.termenv.CursorPrevLine(numLinesToBackup)
		}
		b.isFirstOutput = false

		// Print update.
		fmt.Println(b.statsStyle.Render(b.statsTable.String()))
		_ = b.bar.Add(amount) // Prints progress bar line.
		fmt.Println()
		b.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
	b.asyncUpdatesDone.Done()
}
