package main

import "github.com/quatton/mam/apps/mamd/cmd"

func main() {
	cmd.Execute()
}
