package main

import (
	"os"

	"github.com/roomly/connect/connectservice"
)

func main() {
	if err := connectservice.Run(); err != nil {
		os.Exit(1)
	}
}
