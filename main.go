package main

import "featureforge/cmd"

func main() {
	cmd.Execute()
}
