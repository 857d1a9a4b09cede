package main

import (
	"github.com/tarbuild/tarbuild/cmd/tarbuild/internal"
)

func main() {
	internal.Execute()
}
