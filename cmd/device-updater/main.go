package main

import "github.com/oshokin/device-updater/cmd/device-updater/cmd"

func main() {
	cmd.Execute()
}
