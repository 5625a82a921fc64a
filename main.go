package main

import "github.com/kozaktomas/facelink/cmd"

func main() {
	cmd.Execute()
}
