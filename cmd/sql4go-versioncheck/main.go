// Command sql4go-versioncheck runs the optimistic version tracking scenarios
// against a configured database and reports whether versions advanced
// exactly once per flush.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func exitError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printf(c *color.Color, format string, args ...interface{}) {
	c.Printf(format, args...)
	fmt.Println()
}
