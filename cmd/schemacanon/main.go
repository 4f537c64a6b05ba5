// Command schemacanon canonicalizes open relation labels against a target
// schema, one triplet at a time or over a batch file.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("schemacanon failed", "error", err)
		os.Exit(1)
	}
}
