package main

import (
	"os"

	"github.com/harunnryd/k8sai/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
