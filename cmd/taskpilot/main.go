package main

import "github.com/calloway/taskpilot/cmd/taskpilot/commands"

func main() {
	commands.Execute()
}
