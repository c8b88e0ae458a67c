package main

import "github.com/audiolibrelab/micrecord/cmd"

func main() {
	cmd.Execute()
}
