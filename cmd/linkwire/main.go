package main

import (
	"os"

	"horse.fit/linkwire/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
