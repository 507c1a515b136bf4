package logging

import (
	"github.com/fatih/color"
)

// Level colours. fatih/color disables itself when stderr is not a terminal, or
// when NO_COLOR is set.
var (
	colorTimestamp = color.New(color.FgWhite)
	colorError     = color.New(color.FgRed, color.Bold)
	colorWarn      = color.New(color.FgRed)
	colorInfo      = color.New(color.Reset)
	colorDebug     = color.New(color.FgGreen)
	colorTrace     = color.New(color.FgYellow)
)

// DisableColor turns off ANSI colouring for all loggers.
func DisableColor() {
	color.NoColor = true
}
