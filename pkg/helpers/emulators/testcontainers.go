// Package emulators starts Google Cloud emulators in containers for integration tests.
package emulators

import (
	"google.golang.org/api/option"
)

// ImageContainer names the emulator image and the port it listens on inside the container.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
}

// GCImageContainer is an ImageContainer for a Google Cloud emulator bound to one project.
type GCImageContainer struct {
	ImageContainer
	ProjectID string
	// SetEnvVariables exports the emulator host variable for the running test.
	SetEnvVariables bool
}

// EmulatorConnection is what a test needs to talk to a running emulator.
type EmulatorConnection struct {
	Host          string
	ClientOptions []option.ClientOption
}
