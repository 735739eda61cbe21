// CI runner for the repository
//
// This module provides functions to vet and test the client inside a
// container using the Dagger platform for reproducible runs.

package main

import (
	"context"
	"dagger/integration-tests/internal/dagger"
)

type IntegrationTests struct{}

// Run the unit tests with the mu-law codec and again with libopus
func (m *IntegrationTests) Test(ctx context.Context, source *dagger.Directory) (string, error) {
	return m.testContainer(source).
		WithExec([]string{"go", "vet", "./..."}).
		WithExec([]string{"go", "test", "-race", "./..."}).
		WithExec([]string{"go", "test", "-tags", "opus", "./pkg/codec/...", "./pkg/radio/..."}).
		WithWorkdir("/work/test/containers/voiceserver-mock").
		WithExec([]string{"go", "build", "-o", "/usr/local/bin/voiceserver-mock", "."}).
		Stdout(ctx)
}

// Returns a container configured for running the tests
func (m *IntegrationTests) TestContainer(source *dagger.Directory) *dagger.Container {
	return m.testContainer(source)
}

// Internal helper to create the test container
func (m *IntegrationTests) testContainer(source *dagger.Directory) *dagger.Container {
	return dag.Container().
		From("golang:1.25").
		WithExec([]string{"apt-get", "update"}).
		WithExec([]string{"apt-get", "install", "-y", "git", "ffmpeg", "pkg-config", "libopus-dev", "libopusfile-dev"}).
		WithDirectory("/work", source).
		WithWorkdir("/work")
}
