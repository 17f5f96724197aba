// Package logx centralizes the [INFO]/[FAIL]/[ERROR] tag-prefixed logging
// idiom used throughout the client, rendering the tag in color via
// colorstring the way a terminal-facing CLI tool typically does.
package logx

import (
	"log"

	"github.com/mitchellh/colorstring"
)

func tag(color, label string) string {
	return colorstring.Color("[" + color + "]" + label + "[reset]")
}

// Info logs an informational line prefixed with a green [INFO] tag.
func Info(format string, args ...any) {
	log.Printf(tag("green", "[INFO]")+"\t"+format, args...)
}

// Fail logs a recoverable-failure line prefixed with a red [FAIL] tag.
func Fail(format string, args ...any) {
	log.Printf(tag("red", "[FAIL]")+"\t"+format, args...)
}

// Error logs a hard-error line prefixed with a bold red [ERROR] tag.
func Error(format string, args ...any) {
	log.Printf(colorstring.Color("[bold][red][ERROR][reset]")+"\t"+format, args...)
}
