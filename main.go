package main

import "github.com/nextlevelbuilder/mercabot/cmd"

func main() {
	cmd.Execute()
}
