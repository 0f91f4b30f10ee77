package common

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintSeparatorNewline prints a separator with a newline before it
func PrintSeparatorNewline(char string, width int) {
	fmt.Println("\n" + strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	PrintSeparatorNewline("=", width)
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	PrintSeparatorNewline("=", width)
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing separator line (for sub-sections)
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// FormatCredits renders a credit amount with thousands separators, e.g.
// 1234567 -> "1,234,567 credits".
func FormatCredits(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := b.String() + " credits"
	if negative {
		return "-" + out
	}
	return out
}

// FormatTimestamp renders a time for CLI output, or "-" for the zero value.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
