package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hamed0406/loadprobe/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "loadprobe:", err)
		os.Exit(1)
	}
}
