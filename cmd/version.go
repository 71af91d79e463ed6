package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gonas version %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("vector extensions: %s\n", vectorFeatures())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// vectorFeatures lists the SIMD extensions the numeric kernels can use.
func vectorFeatures() string {
	var f []string
	if cpu.X86.HasSSE41 {
		f = append(f, "sse4.1")
	}
	if cpu.X86.HasAVX {
		f = append(f, "avx")
	}
	if cpu.X86.HasAVX2 {
		f = append(f, "avx2")
	}
	if cpu.X86.HasFMA {
		f = append(f, "fma")
	}
	if cpu.ARM64.HasASIMD {
		f = append(f, "neon")
	}
	if len(f) == 0 {
		return "none"
	}
	return strings.Join(f, " ")
}
