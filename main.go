package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/projecteru2/bootwatch/cmd"
	cmdcore "github.com/projecteru2/bootwatch/cmd/core"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		return
	}
	var exit cmdcore.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
