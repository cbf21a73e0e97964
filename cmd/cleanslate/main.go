// Package main provides the CLI for the CleanSlate data cleaning workbench.
package main

import (
	"github.com/nitro41992/cleanslate/internal/cli"
)

func main() {
	cli.Execute()
}
