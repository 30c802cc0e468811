// Command sobel runs Sobel edge detection sequentially and in parallel,
// checks that both agree, and can spread the work over Redis-connected
// workers.
//
// Usage:
//
//	sobel run --input photo.jpg --output out/       compare reference and parallel filters
//	sobel serve --mode all --input in/ --redis :6379 distributed coordinator, workers and assembler
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errVerdictFailed marks runs whose outputs did not agree. The message has
// already been printed.
var errVerdictFailed = errors.New("parallel output differs from the reference")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sobel",
		Short:         "Sobel edge detection with sequential/parallel equivalence checking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newServeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sobel: %v\n", err)
		os.Exit(1)
	}
}
