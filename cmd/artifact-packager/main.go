package main

import "github.com/oshokin/device-updater/cmd/artifact-packager/cmd"

func main() {
	cmd.Execute()
}
