package main

import "media-pipeline/cmd"

func main() {
	cmd.Execute()
}
