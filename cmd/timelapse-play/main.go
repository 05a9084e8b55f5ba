package main

import (
	"os"

	"github.com/JohannPlaye/earthimagery/cmd/timelapse-play/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
