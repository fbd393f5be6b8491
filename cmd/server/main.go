package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var rootCmd = &cobra.Command{
	Use:   "pleroma",
	Short: "AI syllabus and lesson generation service",
	Long: `pleroma turns a short learning brief into a structured syllabus,
generates each lesson on demand and revises lessons through a chat assistant.`,
	SilenceUsage: true,
}

func main() {
	// klog 参数挂到 cobra 上，例如 --v=6
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	defer klog.Flush()

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("command failed: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}
