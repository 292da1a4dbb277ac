package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// success prints a green check line unless in JSON mode.
func success(format string, args ...interface{}) {
	if outputJSON {
		return
	}
	if noColor {
		fmt.Printf("✓ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgGreen).Printf("✓ %s\n", fmt.Sprintf(format, args...))
	}
}

// fail prints a red cross line to stderr unless in JSON mode.
func fail(format string, args ...interface{}) {
	if outputJSON {
		return
	}
	if noColor {
		fmt.Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
	}
}

// warn prints a yellow warning line unless in JSON mode.
func warn(format string, args ...interface{}) {
	if outputJSON {
		return
	}
	if noColor {
		fmt.Printf("⚠ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgYellow).Printf("⚠ %s\n", fmt.Sprintf(format, args...))
	}
}

// info prints a cyan info line unless in JSON mode.
func info(format string, args ...interface{}) {
	if outputJSON {
		return
	}
	if noColor {
		fmt.Printf("ℹ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgCyan).Printf("ℹ %s\n", fmt.Sprintf(format, args...))
	}
}

// keyValue prints one indented "key: value" line.
func keyValue(key string, value interface{}) {
	if noColor {
		fmt.Printf("  %s: %v\n", key, value)
	} else {
		color.New(color.FgYellow).Printf("  %s: ", key)
		fmt.Printf("%v\n", value)
	}
}

// table prints rows under a header with columns padded to fit.
func table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	header := strings.TrimRight(b.String(), " ")
	if noColor {
		fmt.Println(header)
	} else {
		color.New(color.FgCyan, color.Bold).Println(header)
	}
	fmt.Println(strings.Repeat("─", len(header)))

	for _, row := range rows {
		b.Reset()
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Println(strings.TrimRight(b.String(), " "))
	}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for x := n / unit; x >= unit; x /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// isTerminal reports whether stdout is a character device. Progress
// bars and spinners are suppressed when output is piped.
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
