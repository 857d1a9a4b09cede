package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tarbuild/tarbuild/internal/buildsys"
	"github.com/tarbuild/tarbuild/internal/env"
	"github.com/tarbuild/tarbuild/internal/executor"
)

var detectFlags struct {
	showOptions bool
}

var detectCmd = &cobra.Command{
	Use:   "detect <tarball|source-dir>",
	Short: "Detect the build system and show the planned commands",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().BoolVar(&detectFlags.showOptions, "options", false, "List the project's configure options")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	proj, cleanup, err := prepareSource(args[0])
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	variant := buildsys.Detect(proj.SourceDir)
	if variant == buildsys.Unknown {
		return fmt.Errorf("%s: %w", proj.SourceDir, buildsys.ErrUnknownBuildSystem)
	}
	color.Green("%s %s: %s", proj.Name, proj.Version, variant.Name())

	prefix, err := env.DefaultPrefix()
	if err != nil {
		return err
	}
	cmds, err := buildsys.Commands(variant, buildsys.Options{
		SourceDir: proj.SourceDir,
		Prefix:    prefix,
		RunTests:  true,
	})
	if err != nil {
		return err
	}
	for _, c := range cmds {
		fmt.Printf("  %-10s %s\n", c.Phase, strings.Join(c.Argv, " "))
	}

	if detectFlags.showOptions {
		switch variant {
		case buildsys.Autotools:
			return printConfigureOptions(proj.SourceDir)
		case buildsys.CMake:
			return printCMakeOptions(proj.SourceDir)
		}
	}
	return nil
}

// cmakeCacheOptions lists the project's cache variables, reading an
// already configured build tree when one exists and running cmake -LH
// (which configures into the standard build dir) otherwise.
func cmakeCacheOptions(sourceDir string) ([]buildsys.ConfigOption, error) {
	buildDir := buildsys.BuildDir(buildsys.CMake, sourceDir)
	if data, err := os.ReadFile(filepath.Join(buildDir, "CMakeCache.txt")); err == nil {
		return buildsys.ParseCMakeCacheOptions(string(data)), nil
	}
	res, err := executor.NewLocal().Run(context.Background(), executor.Spec{
		Argv:    []string{"cmake", "-S", sourceDir, "-B", buildDir, "-LH"},
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("cmake -LH failed: %s", strings.TrimSpace(res.Stderr))
	}
	return buildsys.ParseCMakeCacheOptions(res.Stdout), nil
}

func printCMakeOptions(sourceDir string) error {
	opts, err := cmakeCacheOptions(sourceDir)
	if err != nil {
		return err
	}
	if len(opts) == 0 {
		fmt.Println("no cache variables advertised")
		return nil
	}
	for _, o := range opts {
		fmt.Printf("  %-30s %s (default %s)\n", o.Flag, o.Description, o.Default)
	}
	return nil
}

func printConfigureOptions(sourceDir string) error {
	res, err := executor.NewLocal().Run(context.Background(), executor.Spec{
		Argv:    []string{"./configure", "--help"},
		Dir:     sourceDir,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return err
	}
	opts := buildsys.ParseConfigureOptions(res.Stdout)
	if len(opts) == 0 {
		fmt.Println("no configure options advertised")
		return nil
	}
	for _, o := range opts {
		fmt.Printf("  %-30s %s\n", o.Flag, o.Description)
	}
	return nil
}
