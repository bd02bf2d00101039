package main

import "github.com/oshokin/cargo-flutter/cmd/cargo-flutter/cmd"

func main() {
	cmd.Execute()
}
