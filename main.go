package main

import "github.com/avalon-pipeline/databuild/cmd"

func main() {
	cmd.Execute()
}
