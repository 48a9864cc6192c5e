package main

import (
	"github.com/caas-team/instanceplane/cmd"
)

// version is the current version of the control plane
// It is set at build time by using -ldflags "-X main.version=x.x.x"
var version string

func main() {
	cmd.Execute(version)
}
