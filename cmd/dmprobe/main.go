// dmprobe asks the kernel to re-test every path of a dm-multipath
// device, for use after fault injection left paths marked failed.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/prex/internal/multipath"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <dm-path>\n", os.Args[0])
		os.Exit(1)
	}

	fmt.Println("probing")
	if err := multipath.ProbePaths(os.Args[1]); err != nil {
		if errors.Is(err, multipath.ErrNoUsablePaths) {
			fmt.Println("no usable paths")
		} else {
			fmt.Fprintf(os.Stderr, "dmprobe: %v\n", err)
		}
		os.Exit(1)
	}
}
