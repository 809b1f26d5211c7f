package main

import (
	"os"

	"github.com/soundprediction/tkgengine/cmd/tkgengine"
)

func main() {
	if err := tkgengine.Execute(); err != nil {
		os.Exit(1)
	}
}
