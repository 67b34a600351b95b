package main

import (
	"os"

	"gc-diffbench/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
