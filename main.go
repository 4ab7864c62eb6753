package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err == nil {
		return
	}

	// verify already printed the differences.
	if !errors.Is(err, errVerifyMismatch) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(exitCode(err))
}
