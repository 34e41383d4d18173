// Command voxelised runs the voxeliser poll loop as a long-lived service.
//
// It reads the default configuration (or VOXELISER_CONFIG) and exits non-zero
// when startup fails or the loop stops on a configuration error.
package main

import (
	"context"
	"fmt"
	"os"

	"voxeliser/internal/config"
	"voxeliser/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("VOXELISER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
