package main

import "github.com/nextlevelbuilder/ecsched/cmd"

func main() {
	cmd.Execute()
}
