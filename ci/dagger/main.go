package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	dagger "dagger.io/dagger"
)

// steps run in order inside the test container
var steps = [][]string{
	{"go", "vet", "./..."},
	{"go", "test", "-race", "./..."},
	{"go", "test", "-tags", "opus", "./pkg/codec/...", "./pkg/radio/..."},
	{"/bin/sh", "-c", "cd test/containers/voiceserver-mock && go build -o /usr/local/bin/voiceserver-mock ."},
}

func main() {
	ctx := context.Background()

	// Connect to Dagger engine using default settings (DAGGER_HOST env or local)
	c, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stdout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dagger connect: %v\n", err)
		os.Exit(2)
	}
	defer c.Close()

	// The repository root is two levels up from ci/dagger
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get cwd: %v\n", err)
		os.Exit(4)
	}
	repoRootAbs, err := filepath.Abs(filepath.Join(cwd, "..", ".."))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve repo root: %v\n", err)
		os.Exit(5)
	}
	src := c.Host().Directory(repoRootAbs, dagger.HostDirectoryOpts{Exclude: []string{"_examples"}})

	// libopus for the opus build tag, ffmpeg for the file source tests
	ctr := c.Container().From("golang:1.25").
		WithExec([]string{"apt-get", "update"}).
		WithExec([]string{"apt-get", "install", "-y", "ffmpeg", "pkg-config", "libopus-dev", "libopusfile-dev"}).
		WithDirectory("/work", src).
		WithWorkdir("/work")

	for _, step := range steps {
		ctr = ctr.WithExec(step)
	}

	out, outErr := ctr.Stdout(ctx)
	if outErr == nil && out != "" {
		fmt.Print(out)
	}
	errOut, errErr := ctr.Stderr(ctx)
	if errErr == nil && errOut != "" {
		fmt.Fprint(os.Stderr, errOut)
	}

	exitCode, err := ctr.ExitCode(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get exit code: %v\n", err)
		if outErr != nil {
			fmt.Fprintf(os.Stderr, "stdout fetch error: %v\n", outErr)
		}
		if errErr != nil {
			fmt.Fprintf(os.Stderr, "stderr fetch error: %v\n", errErr)
		}
		os.Exit(3)
	}

	if exitCode != 0 {
		fmt.Fprintf(os.Stderr, "tests failed with exit code %d\n", exitCode)
		os.Exit(exitCode)
	}

	fmt.Println("Tests succeeded")
}
