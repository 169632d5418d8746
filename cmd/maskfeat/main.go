// Package main is the entry point of the maskfeat command.
package main

import (
	"os"

	"maskfeat/cmd/maskfeat/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
