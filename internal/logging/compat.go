package logging

import (
	"fmt"
	"os"
)

// Helpers for main packages. Prefer the explicitly leveled API elsewhere.

func (log *Logger) Fatal(v ...interface{}) {
	log.Log(Error, 1, "%s", fmt.Sprint(v...))
	os.Exit(1)
}

