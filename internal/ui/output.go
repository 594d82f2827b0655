// Package ui renders colored CLI progress output to stderr.
package ui

import (
	"os"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgBlue)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// center left-pads text so it sits centered within width. Text wider than
// width is returned unchanged.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}

// Header prints a banner with the title centered between rules.
func Header(title string) {
	line := strings.Repeat("=", headerWidth)
	headerColor.Fprintln(os.Stderr, line)
	headerColor.Fprintln(os.Stderr, center(title, headerWidth))
	headerColor.Fprintln(os.Stderr, line)
}

// Step prints a numbered pipeline stage, e.g. "[1/4] Scanning directory".
func Step(current, total int, description string) {
	infoColor.Fprintf(os.Stderr, "[%d/%d] %s\n", current, total, description)
}

// Success prints a green checkmark line.
func Success(message string) {
	successColor.Fprintf(os.Stderr, "✓ %s\n", message)
}

// Info prints a blue informational line.
func Info(message string) {
	infoColor.Fprintf(os.Stderr, "ℹ %s\n", message)
}

// Warning prints a yellow warning line.
func Warning(message string) {
	warningColor.Fprintf(os.Stderr, "⚠ %s\n", message)
}

// Error prints a red error line.
func Error(message string) {
	errorColor.Fprintf(os.Stderr, "✗ %s\n", message)
}

// BlueText returns the text wrapped in blue ANSI codes for inline use.
func BlueText(text string) string {
	return infoColor.Sprint(text)
}

// YellowText returns the text wrapped in yellow ANSI codes for inline use.
func YellowText(text string) string {
	return warningColor.Sprint(text)
}
