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

// gograd_checkpoints reports on the contents of a checkpoints directory
// written by the checkpoints package: global step, saved variables, their
// shapes, sizes and values. It reads the manifest and data files directly,
// no graph or session is needed.
//
// Usage:
//
//	gograd_checkpoints [-summary] [-vars] [-values] [-list] [-base <name>] <checkpoint_dir>
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gograd/gograd/checkpoints"
	"github.com/gograd/gograd/types/xslices"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Displays a summary of the checkpoint: global step, "+
		"number of variables, parameters and bytes. The default if no other report is selected.")
	flagVars   = flag.Bool("vars", false, "Lists the variables of the checkpoint, with shapes and sizes.")
	flagValues = flag.Bool("values", false, "Prints the values of the variables of the checkpoint. "+
		"Large tensors are abbreviated.")
	flagList = flag.Bool("list", false, "Lists every checkpoint in the directory, with global step and size on disk.")
	flagBase = flag.String("base", "", "Base name of the checkpoint to inspect. Defaults to the most recent one.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'gograd_checkpoints -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'gograd_checkpoints -help'.")
		os.Exit(1)
	}
	if !*flagSummary && !*flagVars && !*flagValues && !*flagList {
		*flagSummary = true
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	brightRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	dimRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = brightRowStyle
			} else {
				s = dimRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(dir string) {
	list := must.M1(checkpoints.List(dir))
	if len(list) == 0 {
		klog.Errorf("No checkpoints found in %q.", dir)
		os.Exit(1)
	}
	base := *flagBase
	if base == "" {
		base = xslices.Last(list)
	} else if !slices.Contains(list, base) {
		klog.Errorf("Checkpoint %q not found in %q. Use -list to see the available ones.", base, dir)
		os.Exit(1)
	}

	if *flagSummary {
		summary(dir, base, len(list))
	}
	if *flagVars {
		variables(dir, base)
	}
	if *flagValues {
		values(dir, base)
	}
	if *flagList {
		listCheckpoints(dir, list)
	}
}

func summary(dir, base string, numCheckpoints int) {
	meta := must.M1(checkpoints.ReadMetadata(dir, base))

	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("checkpoint", base)
	table.Row("directory", dir)
	table.Row("global_step", humanize.Comma(meta.Step))

	var totalSize int
	var totalMemory uintptr
	for _, v := range meta.Variables {
		shape := v.Shape()
		totalSize += shape.Size()
		totalMemory += shape.Memory()
	}
	table.Row("# checkpoints", humanize.Comma(int64(numCheckpoints)))
	table.Row("# variables", humanize.Comma(int64(len(meta.Variables))))
	table.Row("# parameters", humanize.Comma(int64(totalSize)))
	table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
	fmt.Println(table.Render())
}

// variables lists the manifest entries. The manifest is written sorted by
// variable name, so rows come out sorted too.
func variables(dir, base string) {
	meta := must.M1(checkpoints.ReadMetadata(dir, base))

	fmt.Println(titleStyle.Render("Variables"))
	table := newPlainTable(true)
	table.Row("Name", "Shape", "Size", "Bytes")
	for _, v := range meta.Variables {
		shape := v.Shape()
		table.Row(v.Name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())))
	}
	fmt.Println(table.Render())
}

func values(dir, base string) {
	meta, valuesByName := must.M2(checkpoints.ReadValues(dir, base))

	fmt.Println(titleStyle.Render("Values"))
	table := newPlainTable(true)
	table.Row("Name", "Value")
	for _, v := range meta.Variables {
		table.Row(v.Name, valuesByName[v.Name].String())
	}
	fmt.Println(table.Render())
}

func listCheckpoints(dir string, list []string) {
	fmt.Println(titleStyle.Render("Checkpoints"))
	table := newPlainTable(true)
	table.Row("Checkpoint", "Global Step", "Variables", "On disk")
	for _, base := range list {
		meta := must.M1(checkpoints.ReadMetadata(dir, base))
		var onDisk int64
		for _, filePath := range []string{
			checkpoints.PayloadPath(dir, base),
			checkpoints.MetadataPath(dir, base),
		} {
			if info, err := os.Stat(filePath); err == nil {
				onDisk += info.Size()
			}
		}
		table.Row(base, humanize.Comma(meta.Step),
			humanize.Comma(int64(len(meta.Variables))),
			humanize.Bytes(uint64(onDisk)))
	}
	fmt.Println(table.Render())
}
