package main

import (
	"fmt"
	"os"

	"github.com/sandeepkiranp/pd-linux/internal/dmhiddenctl"
)

func main() {
	if err := dmhiddenctl.CLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
